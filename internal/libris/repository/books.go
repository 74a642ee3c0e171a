package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
)

// sortColumns whitelists the sortable book columns; anything else
// falls back to title.
var sortColumns = map[string]string{
	"title":      "title",
	"author":     "author",
	"year":       "published_year",
	"created_at": "created_at",
}

func (r *PostgresRepository) CreateBook(ctx context.Context, book *models.Book) error {
	return r.db.QueryRowContext(
		ctx,
		`INSERT INTO books (title, author, category, isbn, image_url, stock, published_year)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		book.Title, book.Author, book.Category, book.ISBN, book.ImageURL, book.Stock, book.PublishedYear,
	).Scan(&book.ID, &book.CreatedAt)
}

func (r *PostgresRepository) GetBookByID(ctx context.Context, id int64) (*models.Book, error) {
	book := &models.Book{}
	err := r.db.QueryRowContext(
		ctx,
		`SELECT id, title, author, category, isbn, image_url, stock, published_year, created_at
		 FROM books WHERE id = $1`,
		id,
	).Scan(&book.ID, &book.Title, &book.Author, &book.Category, &book.ISBN,
		&book.ImageURL, &book.Stock, &book.PublishedYear, &book.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return book, nil
}

func (r *PostgresRepository) ListBooks(ctx context.Context, category, sortBy, order string) ([]models.Book, error) {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = "title"
	}
	dir := "ASC"
	if order == "desc" {
		dir = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT id, title, author, category, isbn, image_url, stock, published_year, created_at
		 FROM books WHERE ($1 = '' OR category = $1)
		 ORDER BY %s %s`, col, dir)

	rows, err := r.db.QueryContext(ctx, query, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var b models.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.ISBN,
			&b.ImageURL, &b.Stock, &b.PublishedYear, &b.CreatedAt); err != nil {
			return nil, err
		}
		books = append(books, b)
	}

	return books, rows.Err()
}

func (r *PostgresRepository) UpdateBook(ctx context.Context, book *models.Book) error {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE books
		 SET title = $1, author = $2, category = $3, isbn = $4, image_url = $5,
		     stock = $6, published_year = $7
		 WHERE id = $8`,
		book.Title, book.Author, book.Category, book.ISBN, book.ImageURL,
		book.Stock, book.PublishedYear, book.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrBookNotFound)
}

func (r *PostgresRepository) DeleteBook(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrBookNotFound)
}

// PopularBooks ranks books by loan count over the trailing window.
func (r *PostgresRepository) PopularBooks(ctx context.Context, limit, days int) ([]models.PopularBook, error) {
	since := time.Now().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT b.id, b.title, b.author, b.category, b.isbn, b.image_url,
		        b.stock, b.published_year, b.created_at, COUNT(l.id) AS loan_count
		 FROM books b
		 JOIN loans l ON l.book_id = b.id AND l.loan_date >= $1
		 GROUP BY b.id
		 ORDER BY loan_count DESC, b.title ASC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var popular []models.PopularBook
	for rows.Next() {
		var p models.PopularBook
		if err := rows.Scan(&p.Book.ID, &p.Book.Title, &p.Book.Author, &p.Book.Category,
			&p.Book.ISBN, &p.Book.ImageURL, &p.Book.Stock, &p.Book.PublishedYear,
			&p.Book.CreatedAt, &p.LoanCount); err != nil {
			return nil, err
		}
		popular = append(popular, p)
	}

	return popular, rows.Err()
}

func (r *PostgresRepository) LibraryStats(ctx context.Context, now time.Time) (*models.LibraryStats, error) {
	stats := &models.LibraryStats{}
	err := r.db.QueryRowContext(
		ctx,
		`SELECT
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM loans WHERE NOT is_returned),
			(SELECT COUNT(*) FROM loans WHERE NOT is_returned AND due_date < $1)`,
		now,
	).Scan(&stats.Books, &stats.Users, &stats.ActiveLoans, &stats.OverdueLoans)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
