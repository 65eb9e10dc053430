// Package model はドメインモデルを定義する。
package model

import "time"

// Book はカタログに登録された書籍を表す。
// IDは作成時にストアが割り当て、以後変更されない。
type Book struct {
	ID        string
	Title     string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
