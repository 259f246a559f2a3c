package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamsFromStruct(t *testing.T) {
	type TestParams struct {
		Field1 string `param:"name=field1,required=true,default=,description=Field 1 description"`
		Field2 string `param:"name=field2,required=false,default=default_value,description=Field 2 description"`
		Field3 string `param:"name=field3,required=false,default=,description=Field 3\\, with comma"`
		Field4 string // 没有tag,应该被忽略
	}

	params := ParseParamsFromStruct(TestParams{})
	require.Len(t, params, 3)

	assert.Equal(t, "field1", params[0].Name)
	assert.True(t, params[0].Required)
	assert.Equal(t, "Field 1 description", params[0].Description)

	assert.Equal(t, "field2", params[1].Name)
	assert.False(t, params[1].Required)
	assert.Equal(t, "default_value", params[1].Default)

	// 转义的逗号
	assert.Equal(t, "field3", params[2].Name)
	assert.Equal(t, "Field 3, with comma", params[2].Description)
}

func TestParseParamsFromStruct_NotStruct(t *testing.T) {
	type EmptyParams struct{}

	assert.Empty(t, ParseParamsFromStruct(EmptyParams{}))
	assert.Empty(t, ParseParamsFromStruct(&EmptyParams{}))
	assert.Nil(t, ParseParamsFromStruct("x"))
	assert.Nil(t, ParseParamsFromStruct(nil))
}

func TestDecodeArgs(t *testing.T) {
	type TestParams struct {
		Mode   string   `param:"name=mode,required=false,default=none,description=生成模式"`
		Count  int      `param:"name=count,required=false,default=10,description=数量"`
		Enable bool     `param:"name=enable,required=false,default=false,description=启用"`
		Ratio  float64  `param:"name=ratio,required=false,default=0.5,description=比例"`
		Tags   []string `param:"name=tags,required=false,default=,description=标签，分号分隔"`
	}

	tests := []struct {
		name    string
		comment string
		want    TestParams
	}{
		{
			name:    "默认值",
			comment: "// @Test",
			want:    TestParams{Mode: "none", Count: 10, Ratio: 0.5},
		},
		{
			name:    "反引号格式",
			comment: "// @Test(mode=`v1`)",
			want:    TestParams{Mode: "v1", Count: 10, Ratio: 0.5},
		},
		{
			name:    "双引号格式",
			comment: `// @Test(mode="v2")`,
			want:    TestParams{Mode: "v2", Count: 10, Ratio: 0.5},
		},
		{
			name:    "多个参数",
			comment: "// @Test(mode=`v1`, count=`20`, enable=`true`, ratio=2, tags=`a; b`)",
			want:    TestParams{Mode: "v1", Count: 20, Enable: true, Ratio: 2, Tags: []string{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markers := ParseMarkers(tt.comment, nil)
			require.Len(t, markers, 1)

			var got TestParams
			require.NoError(t, DecodeArgs(markers[0], &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeArgs_Errors(t *testing.T) {
	type Required struct {
		Name string `param:"name=name,required=true"`
	}
	type Numeric struct {
		Count int `param:"name=count"`
	}

	var r Required
	err := DecodeArgs(ParseMarkers("// @Test", nil)[0], &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	var n Numeric
	err = DecodeArgs(ParseMarkers("// @Test(count=abc)", nil)[0], &n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count")

	assert.Error(t, DecodeArgs(nil, r))
	assert.Error(t, DecodeArgs(nil, new(int)))
}

func TestNewParams(t *testing.T) {
	type P struct{ A string }

	p, ok := NewParams(P{}).(*P)
	require.True(t, ok)
	assert.NotNil(t, p)

	p2, ok := NewParams(&P{}).(*P)
	require.True(t, ok)
	assert.NotNil(t, p2)

	assert.Nil(t, NewParams(nil))
}
