package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/84hero/evm-activity/internal/webhook"
	"github.com/84hero/evm-activity/pkg/activity"
	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/log"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Output defines the interface for verdict publishing
type Output interface {
	Name() string
	Send(ctx context.Context, events []activity.Event) error
	Close() error
}

// Publish fans events out to every output concurrently. A failing output does not
// stop the others; all failures are joined.
func Publish(ctx context.Context, outputs []Output, events []activity.Event) error {
	if len(events) == 0 || len(outputs) == 0 {
		return nil
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, out := range outputs {
		wg.Add(1)
		go func(o Output) {
			defer wg.Done()
			if err := o.Send(ctx, events); err != nil {
				log.Error("Output failed", "output", o.Name(), "events", len(events), "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
				mu.Unlock()
			}
		}(out)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// eventKey identifies the wallet, chain and month a verdict belongs to.
func eventKey(e activity.Event) string {
	return strings.ToLower(e.Address) + ":" + e.ChainSlug + ":" + string(e.Month)
}

// --- 1. Webhook Output ---

type WebhookOutput struct {
	client   *webhook.Client
	async    bool
	queue    chan []activity.Event
	wg       sync.WaitGroup
	closed   bool
	closedMu sync.Mutex
}

func NewWebhookOutput(cfg webhook.Config, async bool, bufferSize, workers int) *WebhookOutput {
	wo := &WebhookOutput{
		client: webhook.NewClient(cfg),
		async:  async,
	}

	if async {
		if bufferSize <= 0 {
			bufferSize = 1000
		}
		if workers <= 0 {
			workers = 1
		}
		wo.queue = make(chan []activity.Event, bufferSize)
		for i := 0; i < workers; i++ {
			wo.wg.Add(1)
			go wo.worker()
		}
	}

	return wo
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) worker() {
	defer w.wg.Done()
	for events := range w.queue {
		if err := w.client.Send(context.Background(), events); err != nil {
			log.Error("Async webhook delivery failed", "events", len(events), "err", err)
		}
	}
}

func (w *WebhookOutput) Send(ctx context.Context, events []activity.Event) error {
	if w.async {
		w.closedMu.Lock()
		defer w.closedMu.Unlock()
		if w.closed {
			return fmt.Errorf("webhook output is closed")
		}
		select {
		case w.queue <- events:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.client.Send(ctx, events)
}

func (w *WebhookOutput) Close() error {
	if w.async {
		w.closedMu.Lock()
		if !w.closed {
			w.closed = true
			close(w.queue)
		}
		w.closedMu.Unlock()
		w.wg.Wait()
	}
	return nil
}

// --- 2. File Output ---

type FileOutput struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{path: path, file: f}, nil
}

func (f *FileOutput) Name() string { return "file" }

func (f *FileOutput) Send(ctx context.Context, events []activity.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileOutput) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// --- 3. Console Output ---

type ConsoleOutput struct {
	mu sync.Mutex
}

func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{}
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Send(ctx context.Context, events []activity.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(os.Stdout)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

// --- 4. PostgreSQL Output ---

// PostgresOutput keeps one row per address, chain and month; newer verdicts overwrite older ones.
type PostgresOutput struct {
	db    *sql.DB
	table string
}

var tableNamePattern = regexp.MustCompile("^[a-zA-Z0-9_]+$")

func NewPostgresOutput(url, table string) (*PostgresOutput, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	return openPostgresOutput(db, table)
}

// openPostgresOutput takes ownership of db and closes it if the table cannot be prepared.
func openPostgresOutput(db *sql.DB, table string) (*PostgresOutput, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			address TEXT NOT NULL,
			chain_id BIGINT,
			chain_slug TEXT NOT NULL,
			month TEXT NOT NULL,
			has_activity BOOLEAN NOT NULL,
			error TEXT,
			data JSONB,
			checked_at BIGINT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (address, chain_slug, month)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_address ON %s (address);
	`, table, table, table)
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &PostgresOutput{db: db, table: table}, nil
}

func (p *PostgresOutput) Name() string { return "postgres" }

func (p *PostgresOutput) Send(ctx context.Context, events []activity.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const cols = 8
	valueStrings := make([]string, 0, len(events))
	valueArgs := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		jsonData, err := json.Marshal(e)
		if err != nil {
			return err
		}
		n := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))
		valueArgs = append(valueArgs, strings.ToLower(e.Address), e.ChainID, e.ChainSlug, string(e.Month), e.HasActivity, e.Error, jsonData, e.CheckedAt)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (address, chain_id, chain_slug, month, has_activity, error, data, checked_at) VALUES %s
		ON CONFLICT (address, chain_slug, month) DO UPDATE SET
			chain_id = EXCLUDED.chain_id, has_activity = EXCLUDED.has_activity, error = EXCLUDED.error,
			data = EXCLUDED.data, checked_at = EXCLUDED.checked_at, updated_at = NOW()`,
		p.table, strings.Join(valueStrings, ","))
	_, err = tx.ExecContext(ctx, stmt, valueArgs...)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresOutput) Close() error { return p.db.Close() }

// --- 5. Redis Output ---

type RedisOutput struct {
	client *redis.Client
	key    string
	mode   string
}

func NewRedisOutput(addr, password string, db int, key, mode string) (*RedisOutput, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if key == "" {
		key = "evm_activity:verdicts"
	}
	return &RedisOutput{client: rdb, key: key, mode: mode}, nil
}

func (r *RedisOutput) Name() string { return "redis" }

func (r *RedisOutput) Send(ctx context.Context, events []activity.Event) error {
	pipe := r.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if r.mode == "pubsub" {
			pipe.Publish(ctx, r.key, data)
		} else {
			pipe.LPush(ctx, r.key, data)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisOutput) Close() error { return r.client.Close() }

// --- 6. Kafka Output ---

type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaOutput(brokers []string, topic, user, password string) (*KafkaOutput, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	if user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = password
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &KafkaOutput{producer: producer, topic: topic}, nil
}

func (k *KafkaOutput) Name() string { return "kafka" }

// Send keys each message by wallet, chain and month so a partition sees a month's verdicts in order.
func (k *KafkaOutput) Send(ctx context.Context, events []activity.Event) error {
	var msgs []*sarama.ProducerMessage
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(eventKey(e)),
			Value: sarama.ByteEncoder(data),
		})
	}
	return k.producer.SendMessages(msgs)
}

func (k *KafkaOutput) Close() error { return k.producer.Close() }

// --- 7. RabbitMQ Output ---

type RabbitMQOutput struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitMQOutput(url, exchange, routingKey, queueName string, durable bool) (*RabbitMQOutput, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if exchange != "" {
		err = ch.ExchangeDeclare(exchange, "topic", durable, false, false, false, nil)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	if queueName != "" {
		q, err := ch.QueueDeclare(queueName, durable, false, false, false, nil)
		if err == nil {
			err = ch.QueueBind(q.Name, routingKey, exchange, false, nil)
		}
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	return &RabbitMQOutput{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (r *RabbitMQOutput) Name() string { return "rabbitmq" }

func (r *RabbitMQOutput) Send(ctx context.Context, events []activity.Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		err = r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    eventKey(e),
			Body:         data,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RabbitMQOutput) Close() error {
	r.ch.Close()
	return r.conn.Close()
}
