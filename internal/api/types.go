package api

import "github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ProfilesResponse lists the tracked user keys.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
	Default  string   `json:"default"`
}

// HistoryResponse groups a user's history by year and month.
type HistoryResponse struct {
	Username string             `json:"username"`
	Total    int64              `json:"total"`
	Years    []domain.YearGroup `json:"years"`
}

// BadgesResponse lists the badges earned on one day.
type BadgesResponse struct {
	Date   domain.CalendarDay `json:"date"`
	Badges []domain.Badge     `json:"badges"`
}
