package model

// LinkKey 短码与自定义别名共用的命名空间。
// 每个短码和别名都占用一行，主键冲突即表示跨命名空间重复。
type LinkKey struct {
	Key    string `gorm:"primaryKey;size:64"`
	LinkID uint   `gorm:"not null;index"`
}

func (LinkKey) TableName() string {
	return "link_keys"
}

// All 返回需要迁移的全部模型
func All() []any {
	return []any{&User{}, &Link{}, &ClickEvent{}, &LinkKey{}}
}
