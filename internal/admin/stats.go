package admin

import (
	"slices"
	"time"

	"github.com/MrWong99/narrata/pkg/store"
)

// Stats periods accepted by the jobs endpoint.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// maxRecentJobs caps UserStats.RecentJobs.
const maxRecentJobs = 5

// RecentJob is one entry of a user's recent job list.
type RecentJob struct {
	Provider   string    `json:"provider"`
	Characters int       `json:"characters"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserStats aggregates every job of one user.
type UserStats struct {
	TotalJobs       int         `json:"total_jobs"`
	TotalCharacters int         `json:"total_characters"`
	ProvidersUsed   []string    `json:"providers_used"`
	LastJobAt       *time.Time  `json:"last_job_at"`
	RecentJobs      []RecentJob `json:"recent_jobs"`
}

// Bucket is one point of the usage time series.
type Bucket struct {
	Date       string   `json:"date"`
	Jobs       int      `json:"jobs"`
	Characters int      `json:"characters"`
	Users      []string `json:"users"`
}

// Stats is the body of GET /api/admin/jobs.
type Stats struct {
	JobStats           map[string]*UserStats `json:"job_stats"`
	TotalUsersWithJobs int                   `json:"total_users_with_jobs"`
	TimeSeries         []Bucket              `json:"time_series"`
	Period             string                `json:"period"`
}

// ComputeStats aggregates jobs per user and into a time series ending at now.
//
// The day period yields 24 hourly buckets starting at now-24h labelled HH:MM.
// Week and month yield 7 and 30 daily buckets labelled MM-DD. Any other
// period uses week buckets; the requested period is echoed unchanged.
// Labels are UTC.
func ComputeStats(jobs []store.Job, period string, now time.Time) Stats {
	st := Stats{
		JobStats: make(map[string]*UserStats),
		Period:   period,
	}

	ordered := slices.Clone(jobs)
	slices.SortStableFunc(ordered, func(a, b store.Job) int { return b.CreatedAt.Compare(a.CreatedAt) })

	for _, j := range ordered {
		us, ok := st.JobStats[j.UserID]
		if !ok {
			us = &UserStats{ProvidersUsed: []string{}, RecentJobs: []RecentJob{}}
			st.JobStats[j.UserID] = us
		}
		us.TotalJobs++
		us.TotalCharacters += j.Characters
		if !slices.Contains(us.ProvidersUsed, j.Provider) {
			us.ProvidersUsed = append(us.ProvidersUsed, j.Provider)
		}
		if us.LastJobAt == nil || j.CreatedAt.After(*us.LastJobAt) {
			t := j.CreatedAt
			us.LastJobAt = &t
		}
		if len(us.RecentJobs) < maxRecentJobs {
			us.RecentJobs = append(us.RecentJobs, RecentJob{
				Provider:   j.Provider,
				Characters: j.Characters,
				CreatedAt:  j.CreatedAt,
			})
		}
	}
	st.TotalUsersWithJobs = len(st.JobStats)
	st.TimeSeries = timeSeries(ordered, period, now)
	return st
}

func timeSeries(jobs []store.Job, period string, now time.Time) []Bucket {
	var (
		n      int
		width  time.Duration
		layout string
	)
	switch period {
	case PeriodDay:
		n, width, layout = 24, time.Hour, "15:04"
	case PeriodMonth:
		n, width, layout = 30, 24*time.Hour, "01-02"
	default:
		n, width, layout = 7, 24*time.Hour, "01-02"
	}

	start := now.Add(-time.Duration(n) * width)
	out := make([]Bucket, n)
	for i := range out {
		from := start.Add(time.Duration(i) * width)
		to := from.Add(width)
		b := Bucket{Date: from.UTC().Format(layout), Users: []string{}}
		for _, j := range jobs {
			if j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
				continue
			}
			b.Jobs++
			b.Characters += j.Characters
			if !slices.Contains(b.Users, j.UserID) {
				b.Users = append(b.Users, j.UserID)
			}
		}
		out[i] = b
	}
	return out
}
