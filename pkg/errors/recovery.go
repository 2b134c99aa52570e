package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError は回復されたpanicから作られたエラーです。
// 元のpanic値と回復時点のスタックトレースを保持します。
type PanicError struct {
	PanicValue interface{}
	StackTrace string
	Operation  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String はスタックトレースを含む詳細を返します。
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s", e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError は新しいPanicErrorを作成します。
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover はdeferで使用し、panicをエラーに変換します。
// 既にエラーが設定されている場合は、元のエラーを保持したままpanic情報を付与します。
//
//	func (d *Dataset) Release(path string) (err error) {
//	    defer errors.Recover(&err, "Dataset.Release")
//	    ...
//	}
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		if *err != nil {
			*err = fmt.Errorf("panic in %s: %v (original error: %w)", operation, r, *err)
			return
		}
		*err = NewPanicError(operation, r)
	}
}

// SafeExecute は関数を実行し、panicをエラーとして返します。
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// Guard はfnを実行し、正常終了・エラー・panicのいずれの経路でもreleaseを必ず呼び出します。
// releaseが返したエラーは、fnがエラーを返さなかった場合にのみ呼び出し元へ返されます。
func Guard(operation string, fn func() error, release func() error) (err error) {
	defer func() {
		if release == nil {
			return
		}
		if rerr := release(); rerr != nil && err == nil {
			err = Wrapf(rerr, "%s: release", operation)
		}
	}()
	defer Recover(&err, operation)
	return fn()
}
