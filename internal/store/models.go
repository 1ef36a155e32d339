package store

import (
	"time"

	"github.com/recallnet/trading-simulator/internal/config"
)

type Team struct {
	ID        int64
	Name      string
	APIToken  string
	Active    bool
	CreatedAt time.Time
}

type CompetitionStatus string

const (
	CompetitionPending   CompetitionStatus = "PENDING"
	CompetitionActive    CompetitionStatus = "ACTIVE"
	CompetitionCompleted CompetitionStatus = "COMPLETED"
)

type Competition struct {
	ID        int64
	Name      string
	Status    CompetitionStatus
	StartDate *time.Time
	EndDate   *time.Time
}

type Balance struct {
	TeamID        int64
	TokenAddress  string
	Amount        float64
	SpecificChain config.SpecificChain
}

type Trade struct {
	ID                int64
	TeamID            int64
	CompetitionID     int64
	FromToken         string
	ToToken           string
	FromAmount        float64
	ToAmount          float64
	Price             float64
	Success           bool
	Reason            string
	Error             string
	FromChain         config.Chain
	ToChain           config.Chain
	FromSpecificChain config.SpecificChain
	ToSpecificChain   config.SpecificChain
	Timestamp         time.Time
}

type PriceRecord struct {
	Token         string
	Chain         config.Chain
	SpecificChain config.SpecificChain
	PriceUSD      float64
	Timestamp     time.Time
}

type PortfolioSnapshot struct {
	ID            int64
	TeamID        int64
	CompetitionID int64
	Timestamp     time.Time
	TotalValueUSD float64
}

type PortfolioTokenValue struct {
	SnapshotID    int64
	TokenAddress  string
	Amount        float64
	PriceUSD      float64
	ValueUSD      float64
	SpecificChain config.SpecificChain
}
