package service

import (
	"testing"
	"tinkerfai_backend/internal/model"

	"github.com/stretchr/testify/assert"
)

func counts(pairs ...interface{}) []model.ClassCount {
	out := make([]model.ClassCount, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, model.ClassCount{Class: pairs[i].(string), Count: pairs[i+1].(int)})
	}
	return out
}

func TestDecideBalance(t *testing.T) {
	tests := []struct {
		name     string
		counts   []model.ClassCount
		balanced bool
		reason   string
		minCount float64
	}{
		{"minority exactly 30 percent", counts("no", 700, "yes", 300), true, model.BalanceMinorityRatio, 50},
		{"minority 29.9 percent", counts("no", 701, "yes", 299), false, model.BalanceMinorityRatio, 50},
		{"insufficient samples floor", counts("a", 60, "b", 36, "c", 4), true, model.BalanceInsufficientSamples, 5},
		{"three classes within ratio", counts("a", 40, "b", 30, "c", 30), true, model.BalanceImbalanceRatio, 5},
		{"three classes beyond ratio", counts("a", 70, "b", 20, "c", 10), false, model.BalanceImbalanceRatio, 5},
		{"single class", counts("only", 50), true, model.BalanceSingleClass, 0},
		{"fractional floor rounds up the requirement", counts("no", 238, "yes", 12), true, model.BalanceInsufficientSamples, 12.5},
		{"minority just above fractional floor", counts("no", 237, "yes", 13), false, model.BalanceMinorityRatio, 12.5},
		{"five classes use 2 percent", counts("a", 500, "b", 200, "c", 150, "d", 130, "e", 20), false, model.BalanceImbalanceRatio, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideBalance(tt.counts)
			assert.Equal(t, tt.balanced, d.Balanced)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.minCount, d.MinRequiredCount)
		})
	}
}

func TestDecideBalancePercentages(t *testing.T) {
	d := DecideBalance(counts("a", 2, "b", 1))
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 66.67, d.Classes[0].Percentage)
	assert.Equal(t, 33.33, d.Classes[1].Percentage)
	assert.Equal(t, "b", d.MinorityClass)
	// 总数太少，少数类达不到最低样本数
	assert.Equal(t, model.BalanceInsufficientSamples, d.Reason)
}
