package httpapi

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/airquality-daily-stats/internal/stats"
	"github.com/i474232898/airquality-daily-stats/internal/store"
	"github.com/i474232898/airquality-daily-stats/internal/workspace"
)

var validate = validator.New()

// StatsReader reads statistics artifacts.
type StatsReader interface {
	ReadStats(feedID int64) (*stats.FeedStatsOutput, error)
}

// ChannelReader reads imported values from the datastore.
type ChannelReader interface {
	Channels(ctx context.Context, userID int64, device string) ([]string, error)
	GetRange(ctx context.Context, key store.ChannelKey, from, to int64) ([]store.Point, error)
}

// NewApp creates the Fiber app with the JSON codec and middleware used by the API.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "airquality-stats",
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(recover.New())
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, artifacts StatsReader, datastore ChannelReader) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/feeds/:id/stats", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "feed id must be a positive integer")
		}

		out, err := artifacts.ReadStats(id)
		if err != nil {
			if errors.Is(err, workspace.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no stats for requested feed")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read stats")
		}

		return c.JSON(out)
	})

	v1.Get("/devices/:device/channels", func(c *fiber.Ctx) error {
		var req deviceQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		channels, err := datastore.Channels(c.UserContext(), req.User, req.Device)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no channels for requested device")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list channels")
		}

		return c.JSON(fiber.Map{
			"device":   req.Device,
			"channels": channels,
		})
	})

	v1.Get("/devices/:device/channels/:channel", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		key := store.ChannelKey{UserID: req.Device.User, Device: req.Device.Device, Channel: req.Channel}
		points, err := datastore.GetRange(c.UserContext(), key, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no values for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read values")
		}

		return c.JSON(fiber.Map{
			"device":  req.Device.Device,
			"channel": req.Channel,
			"from":    req.From,
			"to":      req.To,
			"points":  points,
		})
	})
}

// deviceQuery identifies one user's device.
type deviceQuery struct {
	Device string `validate:"required"`
	User   int64  `validate:"required,gt=0"`
}

func (d *deviceQuery) bind(c *fiber.Ctx) error {
	d.Device = c.Params("device")

	user, err := strconv.ParseInt(c.Query("user"), 10, 64)
	if err != nil {
		return errors.New("user query parameter must be an integer")
	}
	d.User = user

	return validate.Struct(d)
}

// rangeQuery holds parameters for the channel values endpoint. Both bounds are
// optional and inclusive.
type rangeQuery struct {
	Device  deviceQuery
	Channel string `validate:"required"`
	From    int64
	To      int64 `validate:"gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	if err := r.Device.bind(c); err != nil {
		return err
	}
	r.Channel = c.Params("channel")

	r.From = 0
	r.To = math.MaxInt64
	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		r.From = from.Unix()
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		r.To = to.Unix()
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
