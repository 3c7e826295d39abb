package specialist

import (
	"encoding/json"
	"strings"
)

// extractJSON 把 content 解码到 v，依次尝试：
//  1. 整段内容
//  2. ```json 围栏代码块
//  3. 无语言标记的 ``` 围栏代码块
//  4. 最外层的 {...} 或 [...] 片段
func extractJSON(content string, v any) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	if json.Unmarshal([]byte(content), v) == nil {
		return true
	}

	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(content, fence); idx != -1 {
			start := idx + len(fence)
			if end := strings.Index(content[start:], "```"); end != -1 {
				block := strings.TrimSpace(content[start : start+end])
				if json.Unmarshal([]byte(block), v) == nil {
					return true
				}
			}
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start != -1 && end > start {
			if json.Unmarshal([]byte(content[start:end+1]), v) == nil {
				return true
			}
		}
	}
	return false
}

// contextJSON 把任务上下文渲染为 prompt 片段
func contextJSON(ctx map[string]any) string {
	if len(ctx) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
