package service

import (
	"math"
	"tinkerfai_backend/internal/model"
)

const (
	minorityRatioThreshold  = 30.0
	imbalanceRatioThreshold = 2.0
	minSamplesFloor         = 5
)

// minClassPercentage 类别越多，单个类别允许的最小占比越低
func minClassPercentage(classes int) int {
	switch {
	case classes <= 2:
		return 5
	case classes <= 4:
		return 3
	default:
		return 2
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DecideBalance 根据类别计数判断是否需要过采样，counts 中的计数均为非缺失值
func DecideBalance(counts []model.ClassCount) *model.BalanceDecision {
	total := 0
	for _, c := range counts {
		total += c.Count
	}

	d := &model.BalanceDecision{Total: total, Classes: make([]model.ClassCount, 0, len(counts))}
	for _, c := range counts {
		pct := 0.0
		if total > 0 {
			pct = round2(float64(c.Count) * 100 / float64(total))
		}
		d.Classes = append(d.Classes, model.ClassCount{Class: c.Class, Count: c.Count, Percentage: pct})
	}

	if len(d.Classes) < 2 {
		d.Balanced = true
		d.Reason = model.BalanceSingleClass
		return d
	}

	minority, majority := d.Classes[0], d.Classes[0]
	for _, c := range d.Classes[1:] {
		if c.Count < minority.Count || (c.Count == minority.Count && c.Class < minority.Class) {
			minority = c
		}
		if c.Count > majority.Count {
			majority = c
		}
	}
	d.MinorityClass = minority.Class
	d.MinorityPercentage = minority.Percentage
	// 下限按实数计算，250 行两类时为 12.5
	d.MinRequiredCount = math.Max(minSamplesFloor, float64(total)*float64(minClassPercentage(len(d.Classes)))/100)

	// 少数类样本太少时过采样没有意义
	if float64(minority.Count) < d.MinRequiredCount {
		d.Balanced = true
		d.Reason = model.BalanceInsufficientSamples
		return d
	}

	if len(d.Classes) == 2 {
		d.Balanced = float64(minority.Count)*100/float64(total) >= minorityRatioThreshold
		d.Reason = model.BalanceMinorityRatio
		return d
	}

	d.ImbalanceRatio = round2(float64(majority.Count) / float64(minority.Count))
	d.Balanced = float64(majority.Count)/float64(minority.Count) <= imbalanceRatioThreshold
	d.Reason = model.BalanceImbalanceRatio
	return d
}
