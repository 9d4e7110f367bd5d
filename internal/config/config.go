// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Log          LogConfig          `mapstructure:"log"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	MinIO        MinIOConfig        `mapstructure:"minio"`
	Upload       UploadConfig       `mapstructure:"upload"`
	StoragePaths StoragePathsConfig `mapstructure:"storage_paths"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// UploadConfig 存储资源上传管道相关的配置。
type UploadConfig struct {
	// MaxSingleSize 单次直传的大小上限（字节），超过该值的文件必须走分片上传。
	MaxSingleSize int64 `mapstructure:"max_single_size"`
	// ChunkSize 分片大小（字节）。
	ChunkSize int64 `mapstructure:"chunk_size"`
	// TempDir 分片暂存目录与合并临时文件所在目录。
	TempDir string `mapstructure:"temp_dir"`
	// DecompressBaseDir 解压缩输出的根目录，每个资源使用独立子目录。
	DecompressBaseDir string `mapstructure:"decompress_base_dir"`
	// ConcurrentLimit 同一资源的分片上传并发上限。
	ConcurrentLimit int `mapstructure:"concurrent_limit"`
	// LockExpirySeconds 并发计数锁的过期时间（秒），防止异常请求永久占用名额。
	LockExpirySeconds int `mapstructure:"lock_expiry_seconds"`
	// TempFileExpiryHours 暂存文件的过期时间（小时），超过后由清理任务删除。
	TempFileExpiryHours int `mapstructure:"temp_file_expiry_hours"`
	// StrictSizeCheck 合并后是否严格校验实际大小与声明大小一致。
	StrictSizeCheck bool `mapstructure:"strict_size_check"`
}

// StoragePathsConfig 存储各资源类型在对象存储中的路径前缀。
type StoragePathsConfig struct {
	SampleGroup string `mapstructure:"sample_group"`
	Image       string `mapstructure:"image"`
	Algorithm   string `mapstructure:"algorithm"`
	Model       string `mapstructure:"model"`
	Picture     string `mapstructure:"picture"`
	Other       string `mapstructure:"other"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
