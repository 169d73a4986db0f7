package model

import "time"

// Showtime is a scheduled screening as listed to scanner operators.  Only
// the fields needed to pick the showtime being admitted are exposed; prices
// and seat data stay on the booking side.
//
// Fields:
//  ID         – show identifier (decimal string of shows.id).
//  CinemaID   – cinema owning the hall.
//  HallName   – hall where the show runs.
//  MovieTitle – movie title.
//  StartsAt   – start time (UTC).
//  EndsAt     – end time (UTC).
//  Status     – SCHEDULED, CANCELLED or FINISHED.
type Showtime struct {
	ID         string    `json:"id"`
	CinemaID   string    `json:"cinema_id"`
	HallName   string    `json:"hall_name"`
	MovieTitle string    `json:"movie_title"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Status     string    `json:"status"`
}

// ShowtimeList is the body of GET /v1/cinemas/:id/showtimes.
type ShowtimeList struct {
	Items []Showtime `json:"items"`
	Count int        `json:"count"`
	Date  string     `json:"date"`
}
