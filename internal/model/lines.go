package model

import "strings"

// JoinLines 把有序列表编码为换行分隔的文本。
func JoinLines(items []string) string {
	return strings.Join(items, "\n")
}

// SplitLines 把换行分隔的文本解码为有序列表。
// 兼容 \r\n，去掉每行首尾空白，空行会被跳过。
func SplitLines(text string) []string {
	items := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
