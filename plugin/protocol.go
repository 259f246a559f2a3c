package plugin

import (
	"bufio"
	"bytes"
	"go/ast"
	"go/printer"
	"go/token"
	"io"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// 进程外插件协议
//
//	<bin> describe          -> stdout: Manifest (JSON)
//	<bin> generate <name>   <- stdin: Request (JSON)
//	                        -> stdout: Event 流，每行一个 JSON
//
// 插件进程通过环境变量 MARKGEN_PLUGIN_PROTOCOL 判断自己是否被当作插件调用
const (
	ProtocolEnv     = "MARKGEN_PLUGIN_PROTOCOL"
	ProtocolVersion = 1

	CmdDescribe = "describe"
	CmdGenerate = "generate"
)

// IsPluginProcess 当前进程是否被当作插件启动
func IsPluginProcess() bool {
	return os.Getenv(ProtocolEnv) != ""
}

// Manifest 插件声明的生成器列表
type Manifest struct {
	Protocol   int        `json:"protocol"`
	Generators []Metadata `json:"generators"`
}

// WireNode 传给插件的节点视图
type WireNode struct {
	Kind     NodeKind       `json:"kind"`
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Position token.Position `json:"position"`
	Doc      string         `json:"doc,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// WireMarker 传给插件的标记
type WireMarker struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
	Raw  string            `json:"raw,omitempty"`
}

// Request 一次调用的请求
type Request struct {
	Generator   string     `json:"generator"`
	Node        WireNode   `json:"node"`
	Marker      WireMarker `json:"marker"`
	FilePath    string     `json:"file_path"`
	PackageName string     `json:"package_name"`
	ProjectRoot string     `json:"project_root,omitempty"`
	ModulePath  string     `json:"module_path,omitempty"`
	Externs     []string   `json:"externs,omitempty"`
	Imports     []Import   `json:"imports,omitempty"`
}

// EventType 响应事件类型
type EventType string

const (
	EventDiagnostic EventType = "diagnostic"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// Event 插件输出的一行
type Event struct {
	Type       EventType       `json:"type"`
	Diagnostic *Diagnostic     `json:"diagnostic,omitempty"`
	Result     *GenerateResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewRequest 根据生成上下文构造请求
func NewRequest(generator string, gctx *GenerateContext) *Request {
	req := &Request{
		Generator:   generator,
		FilePath:    gctx.FilePath(),
		PackageName: gctx.PackageName(),
		ProjectRoot: gctx.ProjectRoot(),
		ModulePath:  gctx.ModulePath(),
		Externs:     gctx.Externs(),
		Imports:     gctx.Imports(),
	}
	if node := gctx.Node(); node != nil {
		req.Node = WireNode{
			Kind:     node.Kind,
			Name:     node.Name,
			Path:     node.Path(),
			Position: gctx.Position(),
			Source:   nodeSource(gctx.Fset(), node),
		}
		if node.Doc != nil {
			req.Node.Doc = node.Doc.Text()
		}
	}
	if m := gctx.Marker(); m != nil {
		req.Marker = WireMarker{Name: m.Name, Args: m.Args, Raw: m.Raw}
	}
	return req
}

// ContextFromRequest 在插件进程内还原生成上下文
// 插件侧没有 AST 与语义信息，节点只携带源码文本
func ContextFromRequest(req *Request) *GenerateContext {
	node := &Node{
		Kind:   req.Node.Kind,
		Name:   req.Node.Name,
		Source: req.Node.Source,
	}
	if req.Node.Doc != "" {
		node.Doc = &ast.CommentGroup{List: []*ast.Comment{{Text: "/*" + req.Node.Doc + "*/"}}}
	}
	args := req.Marker.Args
	if args == nil {
		args = make(map[string]string)
	}
	gctx := &GenerateContext{
		node:        node,
		marker:      &Marker{Name: req.Marker.Name, Args: args, Raw: req.Marker.Raw},
		position:    req.Node.Position,
		path:        req.FilePath,
		pkgName:     req.PackageName,
		projectRoot: req.ProjectRoot,
		modulePath:  req.ModulePath,
		externs:     append([]string(nil), req.Externs...),
		imports:     append([]Import(nil), req.Imports...),
	}
	gctx.syntax = newSyntax(req.PackageName)
	return gctx
}

// nodeSource 打印节点源码，模块节点不传整个文件
func nodeSource(fset *token.FileSet, node *Node) string {
	if node.Source != "" {
		return node.Source
	}
	if fset == nil || node.Decl == nil {
		return ""
	}
	var target any
	switch decl := node.Decl.(type) {
	case *ast.TypeSpec:
		target = &ast.GenDecl{Tok: token.TYPE, Specs: []ast.Spec{decl}}
	case *ast.GenDecl:
		target = decl
	default:
		return ""
	}
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, target); err != nil {
		return ""
	}
	return buf.String()
}

// EventWriter 逐行写出事件，可并发调用
type EventWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

func (ew *EventWriter) Write(ev Event) error {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "编码事件失败")
	}
	ew.mu.Lock()
	defer ew.mu.Unlock()
	data = append(data, '\n')
	_, err = ew.w.Write(data)
	return err
}

// maxEventSize 单行事件的上限
const maxEventSize = 64 << 20

// ReadEvents 逐行读取事件，直到输入结束或 fn 返回错误
func ReadEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := sonic.ConfigStd.Unmarshal(line, &ev); err != nil {
			return errors.Wrapf(err, "无法解析插件输出 %q", truncate(string(line), 200))
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// EncodeRequest 写出请求
func EncodeRequest(w io.Writer, req *Request) error {
	return errors.Wrap(sonic.ConfigStd.NewEncoder(w).Encode(req), "编码请求失败")
}

// DecodeRequest 读取请求
func DecodeRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := sonic.ConfigStd.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "解析请求失败")
	}
	return &req, nil
}

// EncodeManifest 写出插件清单
func EncodeManifest(w io.Writer, m *Manifest) error {
	return errors.Wrap(sonic.ConfigStd.NewEncoder(w).Encode(m), "编码插件清单失败")
}

// DecodeManifest 读取插件清单
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "解析插件清单失败")
	}
	return &m, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
