package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message），可包装底层错误（Err）
//   - 支持错误检查函数（IsXXX），基于 errors.As，被 fmt.Errorf("%w") 包装后依然可识别
//
// 使用场景：
//   - 配置错误：CONFIG_ERROR（构造 Session / ParameterServer 时）
//   - 输入错误：WRONG_INPUT（Predict 校验阶段）
//   - 离线数据错误：IO_ERROR
//   - 打分失败：FORWARD_FAILURE
//   - 远程后端不可用：UNAVAILABLE
type DomainError struct {
	Code    string // 错误代码（如 "WRONG_INPUT", "CONFIG_ERROR"）
	Message string // 错误消息
	Module  string // 模块名称（如 "session", "paramserver", "config"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// Errorf 按格式创建领域错误。
func Errorf(module, code, format string, args ...any) *DomainError {
	return NewDomainError(module, code, fmt.Sprintf(format, args...))
}

// WrapError 用领域错误包装底层错误。
func WrapError(module, code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeConfig         = "CONFIG_ERROR"    // 配置缺失或非法
	ErrorCodeWrongInput     = "WRONG_INPUT"     // 输入批次非法
	ErrorCodeLookupMiss     = "LOOKUP_MISS"     // key 不在表中（仅用于诊断，不会作为调用失败返回）
	ErrorCodeIO             = "IO_ERROR"        // 离线数据文件不可读或格式错误
	ErrorCodeForwardFailure = "FORWARD_FAILURE" // 打分函数失败
	ErrorCodeUnavailable    = "UNAVAILABLE"     // 远程服务不可用
	ErrorCodeNotSupported   = "NOT_SUPPORTED"   // 操作不支持
)

// 模块名称常量
const (
	ModuleConfig      = "config"
	ModuleSession     = "session"
	ModuleBatch       = "batch"
	ModuleParamServer = "paramserver"
	ModuleStore       = "store"
	ModuleDataset     = "dataset"
	ModuleModel       = "model"
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsConfigError 检查错误是否为 CONFIG_ERROR
func IsConfigError(err error) bool { return hasCode(err, ErrorCodeConfig) }

// IsWrongInput 检查错误是否为 WRONG_INPUT
func IsWrongInput(err error) bool { return hasCode(err, ErrorCodeWrongInput) }

// IsIOError 检查错误是否为 IO_ERROR
func IsIOError(err error) bool { return hasCode(err, ErrorCodeIO) }

// IsForwardFailure 检查错误是否为 FORWARD_FAILURE
func IsForwardFailure(err error) bool { return hasCode(err, ErrorCodeForwardFailure) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }
