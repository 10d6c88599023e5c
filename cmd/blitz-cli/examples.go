package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"blitz-workers/internal/common/database"
	"blitz-workers/internal/models"
	"blitz-workers/internal/workers/data-access/search-examples/queries"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/cobra"
)

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Manage the question/SQL example index",
}

var examplesIndexCmd = &cobra.Command{
	Use:   "index <file.json>",
	Short: "Bulk-index (question, sql, league) pairs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		docs, err := parseExamples(data, time.Now().UTC())
		if err != nil {
			return err
		}

		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		index := cfg.Database.Elasticsearch.ExamplesIndex

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		if err := es.EnsureIndex(ctx, index, queries.IndexMapping); err != nil {
			return err
		}
		if err := es.BulkIndex(ctx, index, docs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d examples into %s\n", len(docs), index)
		return nil
	},
}

func init() {
	examplesCmd.AddCommand(examplesIndexCmd)
}

type exampleRecord struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
	League   string `json:"league"`
}

func (r exampleRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Question, validation.Required),
		validation.Field(&r.SQL, validation.Required),
		validation.Field(&r.League, validation.Required, validation.In("mlb", "nba")),
	)
}

// parseExamples decodes and validates the file, keyed by a stable id so
// re-indexing the same pair overwrites it.
func parseExamples(data []byte, now time.Time) (map[string]interface{}, error) {
	var records []exampleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("examples file must be a JSON array: %w", err)
	}

	docs := make(map[string]interface{}, len(records))
	for i, r := range records {
		r.Question = strings.TrimSpace(r.Question)
		r.SQL = strings.TrimSpace(r.SQL)
		r.League = string(models.ParseLeague(r.League, ""))
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		docs[exampleID(r)] = map[string]interface{}{
			"question":   r.Question,
			"sql":        r.SQL,
			"league":     r.League,
			"created_at": now.Format(time.RFC3339),
		}
	}
	return docs, nil
}

func exampleID(r exampleRecord) string {
	sum := sha1.Sum([]byte(r.League + "\x00" + strings.ToLower(r.Question)))
	return hex.EncodeToString(sum[:])
}
