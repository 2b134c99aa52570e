// Package errors はmicroforest全体のエラーハンドリングと警告システムを提供します。
// データ検証、ファイルI/O、容量超過、状態違反の4分類を構造化されたエラー型として表現します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("microforest-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されていれば構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// RejectedRecordWarning は入力レコードが検証に失敗し、読み飛ばされたことを示します。
type RejectedRecordWarning struct {
	Source string
	Line   int
	Reason string
}

func (w *RejectedRecordWarning) Error() string {
	return fmt.Sprintf("record rejected at %s:%d: %s", w.Source, w.Line, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *RejectedRecordWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("source", w.Source).
		Int("line", w.Line).
		Str("reason", w.Reason).
		Str("type", "RejectedRecordWarning")
}

// NewRejectedRecordWarning は新しいRejectedRecordWarningを作成します。
func NewRejectedRecordWarning(source string, line int, reason string) *RejectedRecordWarning {
	return &RejectedRecordWarning{Source: source, Line: line, Reason: reason}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ValidationError は入力値や設定値の検証に失敗した場合のエラーです。
// 量子化範囲外の特徴量や、不正なハイパーパラメータがこれにあたります。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("microforest: validation failed for '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// IOError はファイルの欠落、破損、切り詰めを表します。
// Expected/Found には診断に必要な値（マジック値や件数）を入れます。
type IOError struct {
	Op       string
	Path     string
	Expected interface{}
	Found    interface{}
	Err      error
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("microforest: %s %s", e.Op, e.Path)
	if e.Expected != nil || e.Found != nil {
		msg += fmt.Sprintf(": expected %v, found %v", e.Expected, e.Found)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *IOError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("path", e.Path).
		Interface("expected", e.Expected).
		Interface("found", e.Found).
		Str("type", "IOError")
	if e.Err != nil {
		event.AnErr("cause", e.Err)
	}
}

// NewIOError は下位のI/Oエラーを包むIOErrorを作成します。
func NewIOError(op, path string, err error) error {
	return errors.WithStack(&IOError{Op: op, Path: path, Err: err})
}

// NewFormatError は期待値と実際の値が食い違った構造エラーを作成します。
func NewFormatError(op, path string, expected, found interface{}) error {
	return errors.WithStack(&IOError{Op: op, Path: path, Expected: expected, Found: found})
}

// CapacityError はノード予算やビット幅などの上限を超えたことを表します。
type CapacityError struct {
	Resource  string
	Limit     int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("microforest: %s capacity exceeded: requested %d, limit %d", e.Resource, e.Requested, e.Limit)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *CapacityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("resource", e.Resource).
		Int("limit", e.Limit).
		Int("requested", e.Requested).
		Str("type", "CapacityError")
}

// NewCapacityError は新しいCapacityErrorを作成し、スタックトレースを付与します。
func NewCapacityError(resource string, limit, requested int) error {
	return errors.WithStack(&CapacityError{Resource: resource, Limit: limit, Requested: requested})
}

// StateError は解放済みのデータに対して常駐データが必要な操作を行った場合のエラーです。
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("microforest: %s: data is %s, call Load() first", e.Op, e.State)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *StateError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("state", e.State).
		Str("type", "StateError")
}

// NewStateError は新しいStateErrorを作成し、スタックトレースを付与します。
func NewStateError(op, state string) error {
	return errors.WithStack(&StateError{Op: op, State: state})
}

// NotFittedError はモデルが未学習の状態で `Predict` や `Save` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("microforest: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// ===========================================================================
//
//	分類ヘルパー
//
// ===========================================================================

// IsValidation はエラーチェーンにValidationErrorが含まれるかを判定します。
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsIO はエラーチェーンにIOErrorが含まれるかを判定します。
func IsIO(err error) bool {
	var v *IOError
	return errors.As(err, &v)
}

// IsCapacity はエラーチェーンにCapacityErrorが含まれるかを判定します。
func IsCapacity(err error) bool {
	var v *CapacityError
	return errors.As(err, &v)
}

// IsState はエラーチェーンにStateErrorが含まれるかを判定します。
func IsState(err error) bool {
	var v *StateError
	return errors.As(err, &v)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSubsetUnsorted はLoadSubsetに昇順でないIDが渡された場合のエラーです。
	ErrSubsetUnsorted = New("subset ids must be sorted ascending")
)
