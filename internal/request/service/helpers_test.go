package service_test

import "github.com/smallbiznis/homecare/pkg/db/pagination"

func paginationOf(size int) pagination.Pagination {
	return pagination.Pagination{PageSize: size}
}

func paginationOfToken(size int, token string) pagination.Pagination {
	return pagination.Pagination{PageSize: size, PageToken: token}
}
