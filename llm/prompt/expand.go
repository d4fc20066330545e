package prompt

import "strings"

// segment 模板片段：字面量只有一个选项且不做裁剪
type segment struct {
	options []string
}

// parse 把模板拆成片段。未闭合的 '{' 视为字面量。
func parse(template string) []segment {
	var (
		segs    []segment
		literal strings.Builder
	)
	flush := func() {
		if literal.Len() > 0 {
			segs = append(segs, segment{options: []string{literal.String()}})
			literal.Reset()
		}
	}

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			literal.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			literal.WriteString(rest)
			break
		}
		literal.WriteString(rest[:open])
		flush()

		body := rest[open+1 : open+1+end]
		opts := strings.Split(body, ",")
		for i := range opts {
			opts[i] = strings.TrimSpace(opts[i])
		}
		segs = append(segs, segment{options: opts})
		rest = rest[open+1+end+1:]
	}
	flush()
	return segs
}

// Expand 展开模板中的全部 {a,b} 分组。
// 没有分组时返回只含模板本身的切片。
func Expand(template string) []string {
	segs := parse(template)
	if len(segs) == 0 {
		return []string{template}
	}

	results := []string{""}
	for _, seg := range segs {
		next := make([]string, 0, len(results)*len(seg.options))
		for _, prefix := range results {
			for _, opt := range seg.options {
				next = append(next, prefix+opt)
			}
		}
		results = next
	}
	return results
}

// ExpandAll 依次展开多个模板并按输入顺序拼接结果
func ExpandAll(templates []string) []string {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, Expand(t)...)
	}
	return out
}

// Count 返回展开后的数量，不实际展开
func Count(template string) int {
	n := 1
	for _, seg := range parse(template) {
		n *= len(seg.options)
	}
	return n
}
