package application

import (
	"regexp"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"promohub/internal/service/promotion/domain"
)

const (
	dateLayout   = "2006-01-02"
	defaultLimit = 10
	maxLimit     = 100
)

// amountPattern 与用户服务保持一致：必须带小数点，1 到 2 位小数
var amountPattern = regexp.MustCompile(`^\d+\.\d{1,2}$`)

var promotionTypes = []interface{}{
	string(domain.TypeWelcomeBonus), string(domain.TypeVIP), string(domain.TypeBonus),
}

// parseDay 接受 "2006-01-02" 或 RFC3339，结果截断到 UTC 当天
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	return domain.DateOf(t), nil
}

func isDay(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := parseDay(s)
	return err
}

func isPositiveInt(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return errors.New("must be a positive integer")
	}
	return nil
}

// toValidationError 把 ozzo 的字段错误转换为领域校验错误
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		fields := make(map[string]string, len(errs))
		for field, fe := range errs {
			fields[field] = fe.Error()
		}
		return &domain.ValidationError{Fields: fields}
	}
	return &domain.ValidationError{Fields: map[string]string{"request": err.Error()}}
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(field, "must be a valid UUID")
	}
	return id, nil
}

// CreatePromotionRequest 是创建活动的请求体
type CreatePromotionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Type        string `json:"type"`
}

func (r CreatePromotionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Description, validation.Required),
		validation.Field(&r.Amount,
			validation.Required,
			validation.Match(amountPattern).Error("must be a decimal with 1 to 2 fraction digits"),
		),
		validation.Field(&r.StartDate, validation.Required, validation.By(isDay)),
		validation.Field(&r.EndDate, validation.Required, validation.By(isDay), validation.By(r.validateWindow)),
		validation.Field(&r.Type, validation.In(promotionTypes...)),
	)
}

func (r CreatePromotionRequest) validateWindow(interface{}) error {
	start, err1 := parseDay(r.StartDate)
	end, err2 := parseDay(r.EndDate)
	if err1 != nil || err2 != nil {
		return nil
	}
	if end.Before(start) {
		return errors.New("must not be before startDate")
	}
	return nil
}

// toDomain 在 Validate 通过后调用
func (r CreatePromotionRequest) toDomain() (*domain.Promotion, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, domain.NewValidationError("amount", err.Error())
	}
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be greater than 0")
	}
	start, _ := parseDay(r.StartDate)
	end, _ := parseDay(r.EndDate)
	return domain.NewPromotion(r.Title, r.Description, domain.PromotionType(r.Type), amount, start, end), nil
}

// ListPromotionsQuery 对应列表接口的查询参数，取值均为原始字符串
type ListPromotionsQuery struct {
	PromotionID string `json:"promotion_id"`
	IsActive    string `json:"is_active"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Type        string `json:"type"`
	Page        string `json:"page"`
	Limit       string `json:"limit"`
}

func (q ListPromotionsQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.PromotionID, is.UUID),
		validation.Field(&q.IsActive, validation.In("true", "false")),
		validation.Field(&q.StartDate, validation.By(isDay)),
		validation.Field(&q.EndDate, validation.By(isDay)),
		validation.Field(&q.Type, validation.In(promotionTypes...)),
		validation.Field(&q.Page, validation.By(isPositiveInt)),
		validation.Field(&q.Limit, validation.By(isPositiveInt)),
	)
}

// toFilter 在 Validate 通过后调用
func (q ListPromotionsQuery) toFilter() (domain.PromotionFilter, domain.Page) {
	var f domain.PromotionFilter
	if q.PromotionID != "" {
		id := uuid.MustParse(q.PromotionID)
		f.PromotionID = &id
	}
	if q.IsActive != "" {
		active := q.IsActive == "true"
		f.IsActive = &active
	}
	if q.StartDate != "" {
		d, _ := parseDay(q.StartDate)
		f.StartFrom = &d
	}
	if q.EndDate != "" {
		d, _ := parseDay(q.EndDate)
		f.EndUntil = &d
	}
	if q.Type != "" {
		t := domain.PromotionType(q.Type)
		f.Type = &t
	}

	page := domain.Page{Page: 1, Limit: defaultLimit}
	if n, err := strconv.Atoi(q.Page); err == nil {
		page.Page = n
	}
	if n, err := strconv.Atoi(q.Limit); err == nil {
		page.Limit = min(n, maxLimit)
	}
	return f, page
}

// AssignRequest 是批量分配的请求体
type AssignRequest struct {
	UserIDs []string `json:"userIds"`
}

func (r AssignRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserIDs, validation.Required, validation.Each(validation.Required, is.UUID)),
	)
}

// ClaimRequest 是领取活动的请求体
type ClaimRequest struct {
	PromotionID string `json:"promotionId"`
}

func (r ClaimRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PromotionID, validation.Required, is.UUID),
	)
}

// PageResult 是分页查询的结果
type PageResult[T any] struct {
	Items []T
	Total int64
	Page  int
	Limit int
}

// ClaimResult 是领取成功后的结果
type ClaimResult struct {
	AssignmentID uuid.UUID
	Balance      decimal.Decimal
}

// PromotionResponse 是活动对外的 JSON 形态，也作为账本 additionalData 和通知内容
type PromotionResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

func NewPromotionResponse(p *domain.Promotion) PromotionResponse {
	return PromotionResponse{
		ID:          p.ID.String(),
		Title:       p.Title,
		Description: p.Description,
		IsActive:    p.IsActive,
		Type:        string(p.Type),
		Amount:      p.Amount.StringFixed(2),
		StartDate:   p.StartDate.Format(dateLayout),
		EndDate:     p.EndDate.Format(dateLayout),
	}
}

// PlayerPromotionResponse 附带玩家自己的领取状态
type PlayerPromotionResponse struct {
	PromotionResponse
	Claimed bool `json:"claimed"`
}

func NewPlayerPromotionResponse(v *domain.PlayerPromotionView) PlayerPromotionResponse {
	return PlayerPromotionResponse{PromotionResponse: NewPromotionResponse(&v.Promotion), Claimed: v.Claimed}
}

// AssignmentResponse 是一条分配记录
type AssignmentResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	PromotionID string `json:"promotionId"`
	Claimed     bool   `json:"claimed"`
}

func NewAssignmentResponse(pp *domain.PlayerPromotion) AssignmentResponse {
	return AssignmentResponse{
		ID:          pp.ID.String(),
		UserID:      pp.PlayerID.String(),
		PromotionID: pp.PromotionID.String(),
		Claimed:     pp.Claimed,
	}
}

// ClaimResponse 返回领取后的钱包余额
type ClaimResponse struct {
	AssignmentID string `json:"assignmentId"`
	Balance      string `json:"balance"`
}

func NewClaimResponse(r *ClaimResult) ClaimResponse {
	return ClaimResponse{AssignmentID: r.AssignmentID.String(), Balance: r.Balance.StringFixed(2)}
}
