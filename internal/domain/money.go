package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrAmountOutOfRange сумма отрицательна там, где не должна, или не помещается в int64.
var ErrAmountOutOfRange = errors.New("amount out of range")

var (
	minRate = decimal.Zero
	maxRate = decimal.NewFromInt(1)
)

// DefaultCommissionRate ставка комиссии площадки, если в конфигурации не указано иное.
var DefaultCommissionRate = decimal.RequireFromString("0.05")

// ClampRate приводит ставку комиссии к диапазону [0, 1].
func ClampRate(rate decimal.Decimal) decimal.Decimal {
	if rate.LessThan(minRate) {
		return minRate
	}
	if rate.GreaterThan(maxRate) {
		return maxRate
	}
	return rate
}

// Commission округляет price × rate вниз до целой единицы валюты. Вычисления точные, без float.
func Commission(price int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(price).Mul(ClampRate(rate)).Floor().IntPart()
}

// Quote возвращает комиссию и итоговую сумму к списанию с покупателя.
func Quote(price int64, rate decimal.Decimal) (commission int64, total int64, err error) {
	if price < 0 {
		return 0, 0, ErrAmountOutOfRange
	}
	commission = Commission(price, rate)
	if total, err = AddGold(price, commission); err != nil {
		return 0, 0, err
	}
	return commission, total, nil
}

// AddGold сумма a + b без переполнения int64.
func AddGold(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrAmountOutOfRange
	}
	return a + b, nil
}
