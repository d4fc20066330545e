package batch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidKey 请求键格式不合法
var ErrInvalidKey = errors.New("batch: invalid request key")

var keyPattern = regexp.MustCompile(`^r([^_]*)_p(\d+)_img(\d+)_var(\d+)$`)

// Key 是一条批处理请求的来源索引。
// 远端只回传 key 字符串，结果归属完全依赖它。
type Key struct {
	AspectRatio string
	PromptIndex int
	ImageIndex  int
	Variation   int
}

// String 编码为 r{ratio_slug}_p{prompt}_img{image}_var{variation}
func (k Key) String() string {
	return fmt.Sprintf("r%s_p%d_img%d_var%d", RatioSlug(k.AspectRatio), k.PromptIndex, k.ImageIndex, k.Variation)
}

// RatioSlug 把宽高比转换为 key 与路径安全的形式（16:9 -> 16x9）
func RatioSlug(ratio string) string {
	return strings.ReplaceAll(ratio, ":", "x")
}

// RatioFromSlug 是 RatioSlug 的逆变换
func RatioFromSlug(slug string) string {
	return strings.ReplaceAll(slug, "x", ":")
}

// ParseKey 解码请求键。空宽高比合法（未指定宽高比时生成）。
func ParseKey(s string) (Key, error) {
	m := keyPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	p, err1 := strconv.Atoi(m[2])
	i, err2 := strconv.Atoi(m[3])
	v, err3 := strconv.Atoi(m[4])
	if err := errors.Join(err1, err2, err3); err != nil {
		// 数字溢出
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	return Key{
		AspectRatio: RatioFromSlug(m[1]),
		PromptIndex: p,
		ImageIndex:  i,
		Variation:   v,
	}, nil
}

// ValidRatio 报告 ratio 能否无损编码进 key
func ValidRatio(ratio string) bool {
	return !strings.ContainsAny(ratio, "x_")
}
