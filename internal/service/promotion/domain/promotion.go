// internal/service/promotion/domain/promotion.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PromotionType 定义了优惠活动的类型。
type PromotionType string

const (
	TypeWelcomeBonus PromotionType = "WELCOME_BONUS" // 新玩家注册奖励
	TypeVIP          PromotionType = "VIP_PROMOTION"
	TypeBonus        PromotionType = "BONUS"
)

// uniqueTypes 中的类型在任意时刻最多只能有一个有效期重叠的激活活动。
var uniqueTypes = map[PromotionType]bool{
	TypeWelcomeBonus: true,
}

func (t PromotionType) Valid() bool {
	switch t {
	case TypeWelcomeBonus, TypeVIP, TypeBonus:
		return true
	}
	return false
}

// IsUnique 判断该类型是否受"有效期不重叠"约束。
func (t PromotionType) IsUnique() bool {
	return uniqueTypes[t]
}

// Promotion 是优惠活动的定义。金额保留两位小数，起止日期精确到天（闭区间）。
// 活动从不删除，只通过 IsActive / EndDate 控制生命周期。
type Promotion struct {
	ID          uuid.UUID
	Title       string
	Description string
	Type        PromotionType
	Amount      decimal.Decimal
	IsActive    bool
	StartDate   time.Time
	EndDate     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPromotion 创建一个激活状态的活动，日期会被截断到天。
func NewPromotion(title, description string, t PromotionType, amount decimal.Decimal, start, end time.Time) *Promotion {
	if t == "" {
		t = TypeBonus
	}
	return &Promotion{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Type:        t,
		Amount:      amount.Round(2),
		IsActive:    true,
		StartDate:   DateOf(start),
		EndDate:     DateOf(end),
	}
}

// DateOf 把时间截断为 UTC 的当天零点。
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WindowsOverlap 是闭区间相交判断：a.start <= b.end && a.end >= b.start。
// 端点相接（end1 == start2）也算重叠。
func WindowsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !DateOf(aStart).After(DateOf(bEnd)) && !DateOf(aEnd).Before(DateOf(bStart))
}

// Overlaps 判断与另一个活动是否冲突：同类型、均为激活状态且有效期相交。
func (p *Promotion) Overlaps(other *Promotion) bool {
	return p.Type == other.Type && p.IsActive && other.IsActive &&
		WindowsOverlap(p.StartDate, p.EndDate, other.StartDate, other.EndDate)
}

// Contains 判断 at 所在的日期是否落在有效期内。
func (p *Promotion) Contains(at time.Time) bool {
	day := DateOf(at)
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

// IsExpired 当 at 所在日期已晚于结束日期时返回 true，结束当天仍然有效。
func (p *Promotion) IsExpired(at time.Time) bool {
	return DateOf(at).After(p.EndDate)
}

// CheckAvailable 校验活动可被分配/领取：必须激活且未过期。
func (p *Promotion) CheckAvailable(at time.Time) error {
	if !p.IsActive {
		return ErrPromotionNotActive
	}
	if p.IsExpired(at) {
		return ErrPromotionExpired
	}
	return nil
}
