package domain

import "github.com/pkg/errors"

// ErrorKind 是对调用方稳定的错误类型
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindTxAborted         ErrorKind = "TRANSACTION_ABORTED"
	KindInternal          ErrorKind = "INTERNAL"
)

// Error 是购物车领域错误，Message 可以直接返回给调用方
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewValidationError 创建一个动态消息的校验错误
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

var (
	ErrInvalidQuantity   = &Error{Kind: KindValidation, Message: "quantity must be at least 1"}
	ErrInvalidID         = &Error{Kind: KindValidation, Message: "invalid id"}
	ErrInvalidProduct    = &Error{Kind: KindValidation, Message: "invalid product: name is required and price/stock must not be negative"}
	ErrProductNotFound   = &Error{Kind: KindNotFound, Message: "product not found"}
	ErrCartNotFound      = &Error{Kind: KindNotFound, Message: "cart not found"}
	ErrItemNotFound      = &Error{Kind: KindNotFound, Message: "item not found in cart"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrCartLimit         = &Error{Kind: KindValidation, Message: "cart limit exceeded"}
	ErrAmountOverflow    = &Error{Kind: KindValidation, Message: "quantity or price out of range"}

	// ErrTxAborted 表示事务冲突或被存储层中止，可以整体重试
	ErrTxAborted = &Error{Kind: KindTxAborted, Message: "transaction aborted"}
	// ErrRetriesExhausted 是重试耗尽后返回给调用方的通用失败
	ErrRetriesExhausted = &Error{Kind: KindInternal, Message: "cart update could not be completed, please retry"}
)

// KindOf 返回错误链上第一个领域错误的类型，非领域错误一律视为 INTERNAL
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PublicMessage 返回可以暴露给调用方的消息，不包含任何存储层细节
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindTxAborted {
		return de.Message
	}
	return "internal error"
}
