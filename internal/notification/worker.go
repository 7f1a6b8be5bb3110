// Package notification tells members by web push that they were moved off
// a waiting list.
package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"club-events-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool sends promotion notifications in the background. Jobs are
// registration ids.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case registrationID := <-wp.jobs:
			wp.notifyPromotion(ctx, registrationID)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a promoted registration for notification. It never
// blocks: when the queue is full the notification is dropped.
func (wp *WorkerPool) Dispatch(registrationID int64) {
	select {
	case wp.jobs <- registrationID:
	default:
		log.Printf("Notification queue full, dropping registration %d", registrationID)
	}
}

// notifyPromotion pushes a message to every subscription of the member
// holding the registration, if it is still registered.
func (wp *WorkerPool) notifyPromotion(ctx context.Context, registrationID int64) {
	var reg model.Registration
	if err := wp.db.WithContext(ctx).First(&reg, registrationID).Error; err != nil {
		log.Printf("Error fetching registration %d: %v", registrationID, err)
		return
	}
	if reg.Status != model.StatusRegistered {
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Where("member_id = ?", reg.MemberID).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for member %d: %v", reg.MemberID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := fmt.Sprintf("event %d", reg.OccurrenceID)
	var occ model.Occurrence
	if err := wp.db.WithContext(ctx).
		Select("title", "start_at").
		First(&occ, reg.OccurrenceID).Error; err != nil {
		log.Printf("Error fetching occurrence %d: %v", reg.OccurrenceID, err)
	} else if occ.Title != "" {
		label = fmt.Sprintf("%s on %s", occ.Title, occ.StartAt.Format("2006-01-02 15:04"))
	}

	log.Printf("Sending %d notifications for registration %d", len(subscriptions), registrationID)
	message := fmt.Sprintf("A spot opened up: you are now registered for %s.", label)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
