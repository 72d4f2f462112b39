package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend — закрытый набор поддерживаемых внешних workflow-систем.
type Backend string

const (
	BackendMockAccept Backend = "MOCK_ACCEPT"
	BackendMockReject Backend = "MOCK_REJECT"
	BackendJira       Backend = "JIRA"
)

func (b Backend) IsValid() bool {
	switch b {
	case BackendMockAccept, BackendMockReject, BackendJira:
		return true
	}
	return false
}

// Config — корневая структура конфигурации моста.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера Console API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL (аудит исходов).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig — очередь (Streams), колбэки (Pub/Sub) и леджер тикетов.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT в Console API.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// WorkflowConfig — выбор бэкенда и его параметры.
type WorkflowConfig struct {
	Backend         Backend `mapstructure:"backend"`
	DefaultApprover string  `mapstructure:"default_approver"`

	Jira JiraConfig `mapstructure:"jira"`

	// Повторы на уровне соединения (только транспортные ошибки)
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`

	// Настройки Circuit Breaker вокруг бэкенда
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`

	// Сырой статус бэкенда -> Accepted/Rejected
	StatusMapping map[string]string `mapstructure:"status_mapping"`
}

type JiraConfig struct {
	Domain string `mapstructure:"domain"`
	// Endpoint переопределяет URL целиком (on-prem Jira без TLS, стенды)
	Endpoint    string        `mapstructure:"endpoint"`
	ProjectKey  string        `mapstructure:"project_key"`
	IssueTypeID string        `mapstructure:"issue_type_id"`
	SecretRef   string        `mapstructure:"secret_ref"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// URL — REST endpoint для тикетов, ключ тикета дописывается в конец.
func (j JiraConfig) URL() string {
	if j.Endpoint != "" {
		return strings.TrimRight(j.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s/rest/api/latest/issue/", j.Domain)
}

// CatalogConfig — доступ к API каталога данных.
type CatalogConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	ChangeRoleARN string        `mapstructure:"change_role_arn"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// QueueConfig — Redis Stream, из которого читаются команды.
type QueueConfig struct {
	Stream            string        `mapstructure:"stream"`
	Group             string        `mapstructure:"group"`
	Consumer          string        `mapstructure:"consumer"`
	DeadLetterStream  string        `mapstructure:"dead_letter_stream"`
	BatchSize         int64         `mapstructure:"batch_size"`
	BlockTimeout      time.Duration `mapstructure:"block_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxReceiveCount   int64         `mapstructure:"max_receive_count"`
	HaltBackoff       time.Duration `mapstructure:"halt_backoff"`
}

// EngineConfig — темп обращений к бэкенду и буфер аудита.
type EngineConfig struct {
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

type LedgerConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: WORKFLOW_BACKEND=JIRA перекроет workflow.backend
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.Workflow.Backend = Backend(strings.ToUpper(string(cfg.Workflow.Backend)))

	// 6. Ключ для JWT: PEM прямо в ENV или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

// bindLegacyEnv — имена переменных, с которыми мост уже развернут у клиентов.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"workflow.backend":            "WORKFLOW_TYPE",
		"workflow.default_approver":   "SUBSCRIPTION_DEFAULT_APPROVER_ID",
		"workflow.jira.domain":        "JIRA_DOMAIN",
		"workflow.jira.project_key":   "JIRA_PROJECT_KEY",
		"workflow.jira.issue_type_id": "JIRA_ISSUETYPE_ID",
		"workflow.jira.secret_ref":    "JIRA_SECRET_ARN",
		"catalog.change_role_arn":     "SUBSCRIPTION_CHANGE_ROLE_ARN",
	}
	for key, env := range legacy {
		// Новое имя (WORKFLOW_BACKEND) имеет приоритет, старое — запасное
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Ключи без дефолта AutomaticEnv не подхватит при Unmarshal
	v.SetDefault("server.host", "")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.token", "")

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("workflow.backend", string(BackendMockAccept))
	v.SetDefault("workflow.retry_attempts", 5)
	v.SetDefault("workflow.retry_delay", 500*time.Millisecond)
	v.SetDefault("workflow.retry_max_delay", 8*time.Second)
	v.SetDefault("workflow.cb_max_requests", 3)
	v.SetDefault("workflow.cb_interval", 30*time.Second)
	v.SetDefault("workflow.cb_timeout", 60*time.Second)
	v.SetDefault("workflow.cb_max_failures", 5)
	v.SetDefault("workflow.jira.endpoint", "")
	v.SetDefault("workflow.jira.timeout", 10*time.Second)
	// viper приводит ключи карт к нижнему регистру, проектор сравнивает без учета регистра
	v.SetDefault("workflow.status_mapping", map[string]string{
		"accepted": "Accepted",
		"rejected": "Rejected",
	})

	v.SetDefault("catalog.timeout", 10*time.Second)

	v.SetDefault("queue.stream", RedisStreamCommands)
	v.SetDefault("queue.group", "approval-bridge")
	v.SetDefault("queue.consumer", "worker-1")
	v.SetDefault("queue.dead_letter_stream", RedisStreamDeadLetter)
	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.block_timeout", 5*time.Second)
	v.SetDefault("queue.visibility_timeout", 15*time.Minute)
	v.SetDefault("queue.max_receive_count", 6)
	v.SetDefault("queue.halt_backoff", 30*time.Second)

	// Раньше между сообщениями стоял sleep на 2 секунды — это 0.5 rps
	v.SetDefault("engine.requests_per_second", 0.5)
	v.SetDefault("engine.burst", 1)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)

	v.SetDefault("ledger.ttl", 30*24*time.Hour)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("grpc.addr", ":50052")
}

// Validate проверяет обязательные параметры воркера. Ошибка здесь фатальна:
// процесс не должен взять из очереди ни одного сообщения.
func (c *Config) Validate() error {
	var errs []error

	if !c.Workflow.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("unsupported workflow backend %q, try one of: %s, %s, %s",
			c.Workflow.Backend, BackendMockAccept, BackendMockReject, BackendJira))
	}
	if c.Workflow.DefaultApprover == "" {
		errs = append(errs, errors.New("workflow.default_approver is required"))
	}
	if c.Workflow.Backend == BackendJira {
		j := c.Workflow.Jira
		if (j.Domain == "" && j.Endpoint == "") || j.ProjectKey == "" || j.IssueTypeID == "" || j.SecretRef == "" {
			errs = append(errs, errors.New("workflow.jira: domain, project_key, issue_type_id and secret_ref are required for JIRA backend"))
		}
	}
	if c.Catalog.BaseURL == "" {
		errs = append(errs, errors.New("catalog.base_url is required"))
	}
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, errors.New("queue.batch_size must be positive"))
	}
	if c.Engine.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("engine.requests_per_second must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateConsole — Console API дополнительно меняет статус подписки в каталоге.
func (c *Config) ValidateConsole() error {
	err := c.Validate()
	if c.Catalog.ChangeRoleARN == "" {
		err = errors.Join(err, errors.New("catalog.change_role_arn is required"))
	}
	if c.Database.URL == "" {
		err = errors.Join(err, errors.New("database.url is required"))
	}
	if len(c.Auth.PublicKey) == 0 {
		err = errors.Join(err, errors.New("auth public key is required (auth.public_key_path or AUTH_PUBLIC_KEY_DATA)"))
	}
	return err
}
