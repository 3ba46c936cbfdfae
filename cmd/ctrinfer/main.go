// ctrinfer 是 ctrkit 的命令行工具：对离线数据或合成数据打分，以及把稀疏模型导入远程表。
package main

import (
	"fmt"
	"os"

	_ "github.com/rushteam/ctrkit/config/builders"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
