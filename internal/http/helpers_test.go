package http

import (
	"strconv"

	"account-service/internal/domain"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func domainStatus(s string) domain.VerificationStatus {
	return domain.VerificationStatus(s)
}
