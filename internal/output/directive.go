package output

import (
	"go/ast"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/donutnomad/markgen/plugin"
)

// DefaultSuffix 默认输出文件后缀，a.go -> a_gen.go
const DefaultSuffix = "_gen.go"

// directiveRegex 匹配 //go:markgen: 与 // go:markgen: 指令
var directiveRegex = regexp.MustCompile(`^go:markgen:\s*(.*)`)

// Directive 文件级输出配置
//
//	//go:markgen: -output `$FILE_query`
type Directive struct {
	Output string // 输出文件名模板，支持 $FILE 与 $PACKAGE
}

// ParseDirective 解析文件中的 go:markgen: 指令，没有指令时返回 nil
// 同一文件出现多条指令视为错误
func ParseDirective(file *ast.File) (*Directive, error) {
	var lines []string
	for _, cg := range file.Comments {
		for _, c := range cg.List {
			text := strings.TrimPrefix(c.Text, "//")
			text = strings.TrimPrefix(text, "/*")
			text = strings.TrimSuffix(text, "*/")
			text = strings.TrimSpace(text)
			if m := directiveRegex.FindStringSubmatch(text); len(m) > 1 {
				lines = append(lines, m[1])
			}
		}
	}

	switch len(lines) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, errors.Errorf("定义了 %d 条 go:markgen: 指令，只允许一条", len(lines))
	}

	d := &Directive{}
	parts := splitArgs(lines[0])
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "-output":
			if i+1 >= len(parts) {
				return nil, errors.New("go:markgen: -output 缺少参数")
			}
			i++
			d.Output = trimQuotes(parts[i])
		default:
			return nil, errors.Errorf("go:markgen: 未知参数 %q", parts[i])
		}
	}
	if d.Output == "" {
		return nil, nil
	}
	return d, nil
}

// splitArgs 按空格分割参数，引号内的空格保留
func splitArgs(line string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case !inQuote && (c == '`' || c == '"' || c == '\''):
			inQuote = true
			quoteChar = c
			current.WriteByte(c)
		case inQuote && c == quoteChar:
			inQuote = false
			quoteChar = 0
			current.WriteByte(c)
		case !inQuote && (c == ' ' || c == '\t'):
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '`' || first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// replaceTemplateVars 替换 $FILE（源文件名，不含 .go）与 $PACKAGE（包名）
func replaceTemplateVars(template string, mod *plugin.Module) string {
	fileName := strings.TrimSuffix(filepath.Base(mod.Path), ".go")
	template = strings.ReplaceAll(template, "$FILE", fileName)
	template = strings.ReplaceAll(template, "$PACKAGE", mod.PackageName())
	return template
}

// Path 计算模块的输出路径
// 优先使用文件中的指令，否则为 <file><suffix>；相对路径相对于源文件目录
func Path(mod *plugin.Module, suffix string) (string, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}

	var name string
	d, err := ParseDirective(mod.File)
	if err != nil {
		return "", errors.Wrap(err, mod.Path)
	}
	if d != nil {
		name = replaceTemplateVars(d.Output, mod)
		if !strings.HasSuffix(name, ".go") {
			name += ".go"
		}
	} else {
		name = strings.TrimSuffix(filepath.Base(mod.Path), ".go") + suffix
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(mod.Path), name)
	}
	if filepath.Clean(path) == filepath.Clean(mod.Path) {
		return "", errors.Errorf("%s: 输出文件不能覆盖源文件", mod.Path)
	}
	return path, nil
}
