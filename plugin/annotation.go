package plugin

import (
	"go/ast"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/donutnomad/markgen/internal/pkgresolver"
)

// ErrNoSemantic 节点无法进行语义查询
var ErrNoSemantic = errors.New("节点缺少语义信息")

// markerRegex 匹配标记 @Name、@Qual.Name 或 @Name(params)
// @ 必须位于行首或空白之后，避免误匹配邮箱地址
var markerRegex = regexp.MustCompile(`(?:^|\s)@([A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*)(?:\(([^)]*)\))?`)

// paramRegex 匹配参数:
// - key=`value` (反引号格式)
// - key="value" (双引号格式)
// - key=value (普通格式)
var paramRegex = regexp.MustCompile("(\\w+)\\s*=\\s*`([^`]*)`|(\\w+)\\s*=\\s*\"([^\"]*)\"|(\\w+)\\s*=\\s*([^,\\s]+)")

// ParseMarkers 从注释文本中解析所有标记
// imports: 本文件的 import 本地名 -> 导入路径，用于把限定名展开为全限定名
func ParseMarkers(comment string, imports map[string]string) []*Marker {
	var markers []*Marker

	for _, line := range strings.Split(comment, "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "//")
		line = strings.TrimPrefix(line, "/*")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimSpace(line)

		for _, match := range markerRegex.FindAllStringSubmatch(line, -1) {
			m := &Marker{
				Name: qualify(match[1], imports),
				Args: make(map[string]string),
				Raw:  strings.TrimSpace(match[0]),
			}
			if match[2] != "" {
				m.Args = parseParams(match[2])
			}
			markers = append(markers, m)
		}
	}

	return markers
}

// qualify 把 alias.Name 展开为 importpath.Name
func qualify(name string, imports map[string]string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || len(imports) == 0 {
		return name
	}
	if path, ok := imports[name[:idx]]; ok {
		return path + name[idx:]
	}
	return name
}

// parseParams 解析标记参数
func parseParams(content string) map[string]string {
	params := make(map[string]string)

	for _, match := range paramRegex.FindAllStringSubmatch(content, -1) {
		var key, value string
		switch {
		case match[1] != "":
			key, value = match[1], match[2]
		case match[3] != "":
			key, value = match[3], match[4]
		case match[5] != "":
			key, value = match[5], match[6]
		}
		if key != "" {
			params[strings.ToLower(key)] = value
		}
	}

	return params
}

// ImportNames 返回文件中 import 本地名 -> 导入路径
// 未写别名时取路径最后一段，_ 和 . 导入不参与限定
func ImportNames(file *ast.File) map[string]string {
	names := make(map[string]string)
	if file == nil {
		return names
	}
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		var name string
		if spec.Name != nil {
			name = spec.Name.Name
		} else {
			name = pkgresolver.AssumedName(path)
		}
		if name == "_" || name == "." {
			continue
		}
		names[name] = path
	}
	return names
}

// CommentMarkers 返回只依据注释文本的标记查询
func CommentMarkers(file *ast.File) MarkerQuery {
	imports := ImportNames(file)
	return func(node *Node) ([]*Marker, error) {
		if node == nil {
			return nil, ErrNoSemantic
		}
		if node.Doc == nil {
			return nil, nil
		}
		markers := ParseMarkers(node.Doc.Text(), imports)
		for _, m := range markers {
			m.Pos = node.Doc.Pos()
		}
		return markers, nil
	}
}

// FilterByNames 过滤指定名称的标记
func FilterByNames(markers []*Marker, names ...string) []*Marker {
	if len(names) == 0 {
		return markers
	}

	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}

	var result []*Marker
	for _, m := range markers {
		if nameSet[m.Name] {
			result = append(result, m)
		}
	}
	return result
}

// GetMarker 获取指定名称的标记
func GetMarker(markers []*Marker, name string) *Marker {
	for _, m := range markers {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// GetParam 获取标记参数
func (m *Marker) GetParam(key string) string {
	return m.Args[strings.ToLower(key)]
}

// GetParamOr 获取标记参数，如果不存在返回默认值
func (m *Marker) GetParamOr(key, defaultValue string) string {
	if v, ok := m.Args[strings.ToLower(key)]; ok {
		return v
	}
	return defaultValue
}

// HasParam 检查是否有指定参数
func (m *Marker) HasParam(key string) bool {
	_, ok := m.Args[strings.ToLower(key)]
	return ok
}

// ShortName 去掉限定部分后的名称
func (m *Marker) ShortName() string {
	if idx := strings.LastIndex(m.Name, "."); idx >= 0 {
		return m.Name[idx+1:]
	}
	return m.Name
}
