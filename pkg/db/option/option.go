package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption func(*gorm.DB) *gorm.DB

// LockingUpdate is a gorm scope that appends FOR UPDATE to every select in the session.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by SortBy when it is allowed, falling back to created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && (s.Allow == nil || s.Allow[s.SortBy]) {
			column = s.SortBy
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

func WithSelect(columns ...string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Select(columns)
	}
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"

	IsNull Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func (c Condition) expression() clause.Expression {
	column := clause.Column{Name: c.Field}
	switch c.Operator {
	case NEQ:
		return clause.Neq{Column: column, Value: c.Value}
	case GT:
		return clause.Gt{Column: column, Value: c.Value}
	case GTE:
		return clause.Gte{Column: column, Value: c.Value}
	case LT:
		return clause.Lt{Column: column, Value: c.Value}
	case LTE:
		return clause.Lte{Column: column, Value: c.Value}
	case IsNull:
		return clause.Expr{SQL: "? IS NULL", Vars: []any{column}}
	case IN:
		values, ok := c.Value.([]any)
		if !ok {
			return clause.Expr{SQL: fmt.Sprintf("%s IN ?", c.Field), Vars: []any{c.Value}}
		}
		return clause.IN{Column: column, Values: values}
	default:
		return clause.Eq{Column: column, Value: c.Value}
	}
}

// ApplyOperator adds one WHERE condition per Condition, ANDed together.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			db = db.Where(c.expression())
		}
		return db
	}
}
