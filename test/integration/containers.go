package integration

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// Env provisions the full storage surface the engine runs against:
// Postgres (orders, products, outbox), Mongo (carts), Redis (order
// sequence) and Kafka (event relay).
type Env struct {
	PG        *postgres.PostgresContainer
	Mongo     *mongodb.MongoDBContainer
	Redis     *tcredis.RedisContainer
	Kafka     *kafka.KafkaContainer
	PGURL     string
	MongoURL  string
	RedisAddr string
	KAddr     []string
	Cancel    context.CancelFunc
}

func Setup(ctx context.Context) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)

	env := &Env{Cancel: cancel}
	fail := func(err error) (*Env, error) {
		env.Teardown(context.Background())
		return nil, err
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shopforge"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
	)
	if err != nil {
		return fail(err)
	}
	env.PG = pgC
	if env.PGURL, err = pgC.ConnectionString(ctx, "sslmode=disable"); err != nil {
		return fail(err)
	}

	mongoC, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return fail(err)
	}
	env.Mongo = mongoC
	if env.MongoURL, err = mongoC.ConnectionString(ctx); err != nil {
		return fail(err)
	}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return fail(err)
	}
	env.Redis = redisC
	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		return fail(err)
	}
	env.RedisAddr = endpoint

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("order-engine-test"),
	)
	if err != nil {
		return fail(err)
	}
	env.Kafka = kafkaC
	if env.KAddr, err = kafkaC.Brokers(ctx); err != nil {
		return fail(err)
	}

	return env, nil
}

func (e *Env) Teardown(ctx context.Context) {
	e.Cancel()
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.Redis != nil {
		_ = e.Redis.Terminate(ctx)
	}
	if e.Mongo != nil {
		_ = e.Mongo.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
