// Package errkind は台帳操作のエラー分類を定義する
// 各ドメインエラーはこのいずれか1つをラップする
package errkind

import "errors"

// エラー分類
var (
	InvalidInput      = errors.New("invalid_input")
	NotFound          = errors.New("not_found")
	Unauthorized      = errors.New("unauthorized")
	InvalidState      = errors.New("invalid_state")
	AmountMismatch    = errors.New("amount_mismatch")
	InsufficientFunds = errors.New("insufficient_funds")
)

var kinds = []error{
	InvalidInput,
	NotFound,
	Unauthorized,
	InvalidState,
	AmountMismatch,
	InsufficientFunds,
}

// New は分類 kind をラップしたエラーを作成する
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Of は err の分類を返す。分類されていない場合は nil
func Of(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code は err の分類名を返す（例: "not_found"）。分類なしは "internal"
func Code(err error) string {
	if k := Of(err); k != nil {
		return k.Error()
	}
	return "internal"
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
