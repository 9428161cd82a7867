package locparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Parsed 从自由文本中提取出的位置信息
// 坐标提取成功时同时合成规范化 mapUrl，下游展示无需关心命中的是哪种格式
type Parsed struct {
	MapURL    string   `json:"mapUrl,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

var (
	smartQuotes = strings.NewReplacer("‘", "", "’", "", "“", "", "”", "")

	// 按优先级排列的坐标提取模式
	qParamRe  = regexp.MustCompile(`(?i)[?&]q=([-0-9.,]+)`)
	atRe      = regexp.MustCompile(`@(-?\d{1,3}\.\d+),\s*(-?\d{1,3}\.\d+)`)
	decimalRe = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*[,;]\s*(-?\d{1,3}\.\d+)`)
	embedRe   = regexp.MustCompile(`!2d(-?\d+\.\d+)!3d(-?\d+\.\d+)`) // 注意：经度在前
	urlRe     = regexp.MustCompile(`(?i)https?://[^\s]+`)
	mapHostRe = regexp.MustCompile(`(?i)maps\.google\.com|google\.com/maps|maps\.app\.goo\.gl|goo\.gl/maps`)

	trailingPunct = regexp.MustCompile(`[.,)\]]+$`)
)

// Parse 从短信文本中提取坐标或地图链接，全部模式不命中时返回 nil
func Parse(text string) *Parsed {
	if text == "" {
		return nil
	}
	cleaned := strings.TrimSpace(trailingPunct.ReplaceAllString(smartQuotes.Replace(text), ""))

	// 1. ?q=lat,lon / &q=lat,lon
	if m := qParamRe.FindStringSubmatch(cleaned); m != nil {
		parts := strings.Split(m[1], ",")
		if len(parts) >= 2 {
			if p := coords(parts[0], parts[1]); p != nil {
				return p
			}
		}
	}

	// 2. @lat,lon
	if m := atRe.FindStringSubmatch(cleaned); m != nil {
		if p := coords(m[1], m[2]); p != nil {
			return p
		}
	}

	// 3. 裸坐标对 lat,lon / lat;lon
	if m := decimalRe.FindStringSubmatch(cleaned); m != nil {
		if p := coords(m[1], m[2]); p != nil {
			return p
		}
	}

	// 4. 内嵌地图参数 !2d<lon>!3d<lat>
	if m := embedRe.FindStringSubmatch(cleaned); m != nil {
		if p := coords(m[2], m[1]); p != nil {
			return p
		}
	}

	// 5. 兜底：文本中的地图服务链接（无坐标）
	if m := urlRe.FindString(cleaned); m != "" {
		url := trailingPunct.ReplaceAllString(m, "")
		if mapHostRe.MatchString(url) {
			return &Parsed{MapURL: url}
		}
	}

	return nil
}

// CanonicalMapURL 合成规范化地图链接
func CanonicalMapURL(lat, lon float64) string {
	return "https://maps.google.com/?q=" + formatCoord(lat) + "," + formatCoord(lon)
}

func coords(latStr, lonStr string) *Parsed {
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lon, err2 := strconv.ParseFloat(lonStr, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return nil
	}
	return &Parsed{
		MapURL:    CanonicalMapURL(lat, lon),
		Latitude:  &lat,
		Longitude: &lon,
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
