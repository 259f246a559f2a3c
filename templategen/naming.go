package templategen

import "strings"

// initialisms 先把常见缩略词转为首字母大写，API -> Api，与 GORM 的命名策略一致
var initialisms = func() *strings.Replacer {
	words := []string{
		"API", "ASCII", "CPU", "CSS", "DNS", "EOF", "GUID", "HTML", "HTTP", "HTTPS",
		"ID", "IP", "JSON", "LHS", "QPS", "RAM", "RHS", "RPC", "SLA", "SMTP",
		"SSH", "TLS", "TTL", "UID", "UI", "UUID", "URI", "URL", "UTF8", "VM",
		"XML", "XSRF", "XSS",
	}
	pairs := make([]string, 0, len(words)*2)
	for _, w := range words {
		pairs = append(pairs, w, w[:1]+strings.ToLower(w[1:]))
	}
	return strings.NewReplacer(pairs...)
}()

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// columnName 字段名转为列名，结果与 GORM 默认的 NamingStrategy 相同
// 例如 UserID -> user_id，HTTPServer -> http_server
func columnName(name string) string {
	if name == "" {
		return ""
	}
	s := initialisms.Replace(name)

	var b strings.Builder
	b.Grow(len(s) + 4)

	prevUpper, curUpper := false, isUpper(s[0])
	last := len(s) - 1
	for i := 0; i < last; i++ {
		c, next := s[i], s[i+1]
		nextUpper := isUpper(next)
		if curUpper {
			// 连续大写中间的字母属于同一个词
			inRun := prevUpper && (nextUpper || isDigit(next))
			if !inRun && i > 0 && s[i-1] != '_' && next != '_' {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
		prevUpper, curUpper = curUpper, nextUpper
	}

	c := s[last]
	if curUpper {
		if !prevUpper && last > 0 {
			b.WriteByte('_')
		}
		c += 'a' - 'A'
	}
	b.WriteByte(c)
	return b.String()
}
