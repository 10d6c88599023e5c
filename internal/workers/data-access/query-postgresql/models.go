package querypostgresql

import "blitz-workers/internal/models"

type Input struct {
	SQL string `json:"sql"`
}

type Output struct {
	QueryResult        *models.QueryResult `json:"queryResult"`
	QueryExecutionTime int64               `json:"queryExecutionTime"` // milliseconds
}
