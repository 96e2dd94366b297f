// Package validate 对外部输入做显式校验，返回规范化后的值或字段错误列表。
package validate

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

const (
	MaxURLLength   = 2048
	MinAliasLength = 3
	MaxAliasLength = 50
	MinTTLDays     = 1
	MaxTTLDays     = 365
)

// FieldError 单个字段的错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors 实现 error，便于直接返回
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

func (fe *FieldErrors) add(field, format string, args ...any) {
	*fe = append(*fe, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ShortenRequest 创建短链接的原始输入，可选字段为 nil 表示未提供
type ShortenRequest struct {
	URL         string
	CustomAlias *string
	TTLDays     *int
}

// ShortenInput 校验通过后的输入
type ShortenInput struct {
	URL         string
	CustomAlias string
	TTLDays     int
}

// Options 校验策略
type Options struct {
	DefaultTTLDays    int
	BlockPrivateHosts bool
}

// Shorten 校验创建请求。返回的 FieldErrors 非空时 ShortenInput 无意义
func Shorten(req ShortenRequest, opts Options) (ShortenInput, FieldErrors) {
	var errs FieldErrors
	var in ShortenInput

	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		errs.add("url", "%s", err.Error())
	} else if opts.BlockPrivateHosts && isPrivateHost(normalized) {
		errs.add("url", "不允许使用内网或本地地址")
	}
	in.URL = normalized

	if req.CustomAlias != nil {
		alias := strings.TrimSpace(*req.CustomAlias)
		if alias != "" {
			if msg := checkAlias(alias); msg != "" {
				errs.add("customAlias", "%s", msg)
			}
			in.CustomAlias = alias
		}
	}

	in.TTLDays = opts.DefaultTTLDays
	if req.TTLDays != nil {
		if *req.TTLDays < MinTTLDays || *req.TTLDays > MaxTTLDays {
			errs.add("ttlDays", "有效期必须在 %d-%d 天之间", MinTTLDays, MaxTTLDays)
		}
		in.TTLDays = *req.TTLDays
	}

	if len(errs) > 0 {
		return ShortenInput{}, errs
	}
	return in, nil
}

// NormalizeURL 没有 http/https 前缀时补全 https://，去掉末尾的一个斜杠，并检查是否为合法的绝对地址
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("URL 不能为空")
	}
	if len(raw) > MaxURLLength {
		return "", fmt.Errorf("URL 长度不能超过 %d 个字符", MaxURLLength)
	}

	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	raw = strings.TrimSuffix(raw, "/")
	if len(raw) > MaxURLLength {
		return "", fmt.Errorf("URL 长度不能超过 %d 个字符", MaxURLLength)
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", fmt.Errorf("URL 格式无效")
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("URL 格式无效")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("只支持 http 和 https 协议")
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL 缺少主机名")
	}
	if !strings.Contains(host, ".") && host != "localhost" && net.ParseIP(host) == nil {
		return "", fmt.Errorf("URL 主机名无效")
	}
	return raw, nil
}

// ReservedAliases 与顶层路由同名，不能作为短码或别名使用
var ReservedAliases = []string{"health", "swagger", "analytics", "api", "auth"}

// IsReserved 判断标识符是否与系统路径冲突，忽略大小写
func IsReserved(identifier string) bool {
	for _, r := range ReservedAliases {
		if strings.EqualFold(identifier, r) {
			return true
		}
	}
	return false
}

func checkAlias(alias string) string {
	if len(alias) < MinAliasLength || len(alias) > MaxAliasLength {
		return fmt.Sprintf("自定义别名长度必须在 %d-%d 个字符之间", MinAliasLength, MaxAliasLength)
	}
	for _, c := range alias {
		if !isAliasChar(c) {
			return "自定义别名只能包含字母、数字、连字符和下划线"
		}
	}
	if IsReserved(alias) {
		return "自定义别名与系统路径冲突"
	}
	return ""
}

func isAliasChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}

func isPrivateHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
