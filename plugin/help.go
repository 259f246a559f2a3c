package plugin

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// FormatHelpText 为所有注册的生成器生成帮助文本
func FormatHelpText(registry *Registry) string {
	regs := registry.Registrations()
	if len(regs) == 0 {
		return "  (暂无已注册的生成器)\n"
	}

	var sb strings.Builder

	for _, reg := range regs {
		fmt.Fprintf(&sb, "  @%s - %s", reg.Marker, reg.Name)
		if reg.Source != "" && reg.Source != SourceBuiltin {
			fmt.Fprintf(&sb, " (%s)", reg.Source)
		}
		sb.WriteString("\n")
		if reg.Description != "" {
			fmt.Fprintf(&sb, "    %s\n", reg.Description)
		}

		if len(reg.Params) > 0 {
			sb.WriteString("    参数:\n")
			width := 0
			labels := make([]string, len(reg.Params))
			for i, param := range reg.Params {
				labels[i] = paramLabel(param)
				width = max(width, runewidth.StringWidth(labels[i]))
			}
			for i, param := range reg.Params {
				// 中文参数名按显示宽度对齐
				fmt.Fprintf(&sb, "      %s - %s\n", runewidth.FillRight(labels[i], width), param.Description)
			}
		}

		sb.WriteString("    示例:\n")
		fmt.Fprintf(&sb, "      @%s\n", reg.Marker)
		for i, param := range reg.Params {
			if i >= 2 {
				break // 只显示前2个参数的示例
			}
			if param.Default != "" {
				fmt.Fprintf(&sb, "      @%s(%s=%s)\n", reg.Marker, param.Name, param.Default)
			}
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func paramLabel(param ParamDef) string {
	label := param.Name
	if param.Required {
		label += " (必填)"
	}
	if param.Default != "" {
		label += fmt.Sprintf(" [默认: %s]", param.Default)
	}
	return label
}

// FormatParamDef 格式化单个参数定义
func FormatParamDef(param ParamDef) string {
	parts := []string{param.Name}

	if param.Required {
		parts = append(parts, "required")
	} else {
		parts = append(parts, "optional")
	}

	if param.Default != "" {
		parts = append(parts, fmt.Sprintf("default=%s", param.Default))
	}

	if param.Description != "" {
		parts = append(parts, param.Description)
	}

	return strings.Join(parts, ", ")
}
