package phone

import "strings"

// Normalize 去除号码中的所有非数字字符
// "+91 98765-43210" → "919876543210"
func Normalize(p string) string {
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// Matches 判断两个号码是否指向同一联系人
// 归一化后相等、一方为另一方后缀、或一方包含另一方均视为匹配，
// 以兼容带/不带国家码、前导零等录入差异（+91XXXXXXXXXX vs XXXXXXXXXX）
// 注意：对很短的号码可能误匹配，属已知取舍
func Matches(a, b string) bool {
	na := Normalize(a)
	nb := Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb ||
		strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na) ||
		strings.Contains(na, nb) || strings.Contains(nb, na)
}

// Variants 返回存储键使用的号码变体（原始、归一化、去前导+）
// 用于在两个存储后端之间按候选键查找
func Variants(p string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range []string{p, Normalize(p), strings.TrimPrefix(p, "+")} {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
