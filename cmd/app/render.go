package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"scorecard-monitor/internal/domain"
)

func renderAccounts(w io.Writer, accounts []*domain.Account) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tTAG\tNAME\tREPOS\tURL")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.Service.DisplayName(), a.Tag, a.Name, a.TotalRepositories, a.URL)
	}
	return tw.Flush()
}

func renderScorecards(w io.Writer, account *domain.Account, requests []*domain.ScorecardRequest, average float64) error {
	if account != nil {
		fmt.Fprintf(w, "📦 %s (%s)\n", account.Name, account.Key())
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tSCORE\tSTARS\tARCHIVED\tUPDATED")
	for _, req := range requests {
		repo := req.Repository
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			repo.Name, formatScore(req), repo.StarCount, yesNo(repo.Archived), formatDate(repo))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "⭐ 平均分: %.1f (%d 个仓库)\n", average, len(requests))
	return err
}

func formatScore(req *domain.ScorecardRequest) string {
	if req.LoadState == domain.LoadStateLoading {
		return "..."
	}
	if score := req.Score(); score != nil {
		return fmt.Sprintf("%.1f", *score)
	}
	return "-"
}

func formatDate(repo *domain.Repository) string {
	if repo.LastUpdated.IsZero() {
		return "-"
	}
	return repo.LastUpdated.Format("2006-01-02")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return ""
}
