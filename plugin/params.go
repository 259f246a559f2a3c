package plugin

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ParamDef 标记参数定义
type ParamDef struct {
	Name        string `json:"name"`
	Required    bool   `json:"required,omitempty"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParseParamsFromStruct 从结构体的tag解析参数定义
// 支持的tag: name, required, default, description
//
// 示例:
//
//	type Params struct {
//	    Text string `param:"name=text,required=false,default=,description=内联模板"`
//	    File string `param:"name=file,required=false,default=,description=模板文件路径"`
//	}
//
//	params := plugin.ParseParamsFromStruct(Params{})
func ParseParamsFromStruct(v any) []ParamDef {
	if v == nil {
		return nil
	}
	typ := reflect.TypeOf(v)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil
	}

	var params []ParamDef
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("param")
		if tag == "" {
			continue
		}
		if def := parseParamTag(tag); def.Name != "" {
			params = append(params, def)
		}
	}
	return params
}

// parseParamTag 解析 param tag 字符串
// 格式: name=xxx,required=true,default=xxx,description=xxx
func parseParamTag(tag string) ParamDef {
	var param ParamDef
	for key, value := range splitTag(tag) {
		switch key {
		case "name":
			param.Name = value
		case "required":
			param.Required = cast.ToBool(value)
		case "default":
			param.Default = value
		case "description":
			param.Description = value
		}
	}
	return param
}

// splitTag 分割tag字符串为键值对，反斜杠转义下一个字符
// 格式: key1=value1,key2=value2,...
func splitTag(tag string) map[string]string {
	result := make(map[string]string)

	var key, value strings.Builder
	inKey := true
	escaped := false

	flush := func() {
		if key.Len() > 0 {
			result[key.String()] = value.String()
		}
		key.Reset()
		value.Reset()
		inKey = true
	}

	for i := 0; i < len(tag); i++ {
		ch := tag[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
			continue
		case ch == '=' && inKey:
			inKey = false
			continue
		case ch == ',':
			flush()
			continue
		}
		if inKey {
			key.WriteByte(ch)
		} else {
			value.WriteByte(ch)
		}
	}
	flush()

	return result
}

// DecodeArgs 将标记参数解析到目标结构体中
// target 必须是结构体指针；缺失的参数取 tag 中的默认值，required 参数缺失时报错
//
// 示例:
//
//	var params TemplateParams
//	err := plugin.DecodeArgs(marker, &params)
func DecodeArgs(marker *Marker, target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.New("target 必须是非 nil 指针")
	}
	val = val.Elem()
	typ := val.Type()
	if typ.Kind() != reflect.Struct {
		return errors.Errorf("target 必须指向结构体，实际为 %s", typ.Kind())
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		tag := field.Tag.Get("param")
		if tag == "" {
			continue
		}
		def := parseParamTag(tag)
		if def.Name == "" {
			continue
		}

		raw, ok := "", false
		if marker != nil {
			raw, ok = marker.Args[strings.ToLower(def.Name)]
		}
		if !ok {
			if def.Required {
				return errors.Errorf("缺少必填参数 %q", def.Name)
			}
			raw = def.Default
		}

		if err := setFieldValue(fieldVal, raw); err != nil {
			return errors.Wrapf(err, "参数 %q", def.Name)
		}
	}
	return nil
}

// setFieldValue 设置字段值，支持 string, int, uint, bool, float 以及字符串切片
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := cast.ToInt64E(orZero(value))
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := cast.ToUint64E(orZero(value))
		if err != nil {
			return err
		}
		field.SetUint(v)
	case reflect.Bool:
		if value == "" {
			field.SetBool(false)
			return nil
		}
		v, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.Float32, reflect.Float64:
		v, err := cast.ToFloat64E(orZero(value))
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return errors.Errorf("不支持的切片类型 %s", field.Type())
		}
		var items []string
		for _, s := range strings.Split(value, ";") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items).Convert(field.Type()))
	default:
		return errors.Errorf("不支持的字段类型 %s", field.Type())
	}
	return nil
}

func orZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
