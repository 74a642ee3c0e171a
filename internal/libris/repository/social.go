package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
)

// Review repository methods

func (r *PostgresRepository) CreateReview(ctx context.Context, review *models.Review) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO reviews (book_id, user_id, rating, comment)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		review.BookID, review.UserID, review.Rating, review.Comment,
	).Scan(&review.ID, &review.CreatedAt)
}

func (r *PostgresRepository) GetReviewByID(ctx context.Context, id int64) (*models.Review, error) {
	review := &models.Review{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, book_id, user_id, rating, comment, created_at
		 FROM reviews WHERE id = $1`, id,
	).Scan(&review.ID, &review.BookID, &review.UserID, &review.Rating, &review.Comment, &review.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return review, nil
}

func (r *PostgresRepository) GetBookReviews(ctx context.Context, bookID int64) ([]models.Review, error) {
	return r.queryReviews(ctx,
		`SELECT rv.id, rv.book_id, rv.user_id, u.name, rv.rating, rv.comment, rv.created_at
		 FROM reviews rv JOIN users u ON u.id = rv.user_id
		 WHERE rv.book_id = $1 ORDER BY rv.created_at DESC`, bookID)
}

func (r *PostgresRepository) GetUserReviews(ctx context.Context, userID string) ([]models.Review, error) {
	return r.queryReviews(ctx,
		`SELECT rv.id, rv.book_id, rv.user_id, u.name, rv.rating, rv.comment, rv.created_at
		 FROM reviews rv JOIN users u ON u.id = rv.user_id
		 WHERE rv.user_id = $1 ORDER BY rv.created_at DESC`, userID)
}

func (r *PostgresRepository) ListReviews(ctx context.Context) ([]models.Review, error) {
	return r.queryReviews(ctx,
		`SELECT rv.id, rv.book_id, rv.user_id, u.name, rv.rating, rv.comment, rv.created_at
		 FROM reviews rv JOIN users u ON u.id = rv.user_id
		 ORDER BY rv.created_at DESC`)
}

func (r *PostgresRepository) queryReviews(ctx context.Context, query string, args ...interface{}) ([]models.Review, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.BookID, &rv.UserID, &rv.UserName, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}

	return reviews, rows.Err()
}

func (r *PostgresRepository) DeleteReview(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM reviews WHERE id = $1", id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrNotFound)
}

// Favorite repository methods

// AddFavorite is a no-op when the favorite already exists.
func (r *PostgresRepository) AddFavorite(ctx context.Context, userID string, bookID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, book_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, book_id) DO NOTHING`,
		userID, bookID)
	return err
}

func (r *PostgresRepository) RemoveFavorite(ctx context.Context, userID string, bookID int64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM favorites WHERE user_id = $1 AND book_id = $2", userID, bookID)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrNotFound)
}

func (r *PostgresRepository) GetUserFavorites(ctx context.Context, userID string) ([]models.Favorite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.user_id, f.book_id, f.added_at,
		        b.id, b.title, b.author, b.category, b.isbn, b.image_url,
		        b.stock, b.published_year, b.created_at
		 FROM favorites f JOIN books b ON b.id = f.book_id
		 WHERE f.user_id = $1 ORDER BY f.added_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var f models.Favorite
		var b models.Book
		if err := rows.Scan(&f.UserID, &f.BookID, &f.AddedAt,
			&b.ID, &b.Title, &b.Author, &b.Category, &b.ISBN, &b.ImageURL,
			&b.Stock, &b.PublishedYear, &b.CreatedAt); err != nil {
			return nil, err
		}
		f.Book = &b
		favorites = append(favorites, f)
	}

	return favorites, rows.Err()
}

// Contact message repository methods

func (r *PostgresRepository) CreateMessage(ctx context.Context, msg *models.ContactMessage) error {
	msg.Status = models.MessageStatusNew
	return r.db.QueryRowContext(ctx,
		`INSERT INTO messages (name, email, subject, body)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		msg.Name, msg.Email, msg.Subject, msg.Body,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *PostgresRepository) GetMessageByID(ctx context.Context, id int64) (*models.ContactMessage, error) {
	msg := &models.ContactMessage{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, subject, body, status, reply, replied_at, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&msg.ID, &msg.Name, &msg.Email, &msg.Subject, &msg.Body, &msg.Status,
		&msg.Reply, &msg.RepliedAt, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, status string) ([]models.ContactMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, email, subject, body, status, reply, replied_at, created_at
		 FROM messages WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ContactMessage
	for rows.Next() {
		var m models.ContactMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Subject, &m.Body, &m.Status,
			&m.Reply, &m.RepliedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (r *PostgresRepository) MarkMessageRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET status = $1 WHERE id = $2 AND status = $3",
		models.MessageStatusRead, id, models.MessageStatusNew)
	if err != nil {
		return err
	}
	// Marking an already-read message again is fine; only a missing
	// row is an error.
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		msg, err := r.GetMessageByID(ctx, id)
		if err != nil {
			return err
		}
		if msg == nil {
			return ErrNotFound
		}
	}
	return nil
}

func (r *PostgresRepository) ReplyMessage(ctx context.Context, id int64, reply string, when time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET status = $1, reply = $2, replied_at = $3 WHERE id = $4",
		models.MessageStatusReplied, reply, when, id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrNotFound)
}

func (r *PostgresRepository) UnreadMessageCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE status = $1", models.MessageStatusNew,
	).Scan(&count)
	return count, err
}
