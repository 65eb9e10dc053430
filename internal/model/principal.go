// Package model はドメインモデルを定義する。
package model

// Principal は検証済みトークンから導出された認証主体を表す。
// リクエストごとに生成され、永続化されない。
type Principal struct {
	// Subject はトークンのsubクレーム（発行者側のユーザー識別子）。
	Subject string
	// Roles はrolesクレームから取得したロール名の集合。
	Roles []string
}

// HasRole は指定されたロールを保持しているかを返す。
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
