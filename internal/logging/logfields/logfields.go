// Package logfields 定义各包共用的日志字段名
package logfields

const (
	// LogSubsys 子系统字段
	LogSubsys = "subsys"

	// Module 源文件路径
	Module = "module"

	// Node 声明节点名称
	Node = "node"

	// Marker 标记全限定名
	Marker = "marker"

	// Generator 生成器名称
	Generator = "generator"

	// Plugin 插件可执行文件路径
	Plugin = "plugin"

	// Location 插件搜索位置
	Location = "location"

	// Path 输出文件路径
	Path = "path"

	// Duration 耗时
	Duration = "duration"

	// Count 数量
	Count = "count"
)
