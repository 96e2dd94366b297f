package shortcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// Charset 包含用于生成短码的所有字符
	Charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// DefaultLength 默认短码长度
	DefaultLength = 8
	// MaxLength 短码列宽度为 16
	MaxLength = 16
)

var charsetSize = big.NewInt(int64(len(Charset)))

// Generator 生成随机短码。
// 它不保证唯一性：唯一性由存储层在写入时判定，调用方在冲突时重新生成。
// Generator 没有可变状态，可以被多个 goroutine 同时使用。
type Generator struct {
	length int
	source io.Reader
}

// Option 用于定制 Generator
type Option func(*Generator)

// WithSource 替换随机源，测试中使用
func WithSource(r io.Reader) Option {
	return func(g *Generator) { g.source = r }
}

// NewGenerator 创建指定长度的短码生成器，长度非法时使用默认值
func NewGenerator(length int, opts ...Option) *Generator {
	if length <= 0 || length > MaxLength {
		length = DefaultLength
	}
	g := &Generator{length: length, source: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Length 返回生成的短码长度
func (g *Generator) Length() int { return g.length }

// Generate 生成一个配置长度的短码
func (g *Generator) Generate() (string, error) {
	return g.GenerateN(g.length)
}

// GenerateN 从字符集中独立、均匀地抽取 length 个字符
func (g *Generator) GenerateN(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("短码长度必须大于 0")
	}
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(g.source, charsetSize)
		if err != nil {
			return "", fmt.Errorf("读取随机数失败: %w", err)
		}
		b[i] = Charset[num.Int64()]
	}
	return string(b), nil
}

// IsValid 判断字符串是否可能是本生成器产生的短码
func IsValid(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !isCharsetByte(code[i]) {
			return false
		}
	}
	return true
}

func isCharsetByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
