package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/jessevdk/go-flags"
)

// CmdEnv holds the command line options. Command line options override env
// vars, and both override values loaded from config files when ApplyTags is
// called. Fields in the config structs opt in with a `cmdenv` tag naming the
// field here.
type CmdEnv struct {
	ConfigLocations       []string `short:"c" long:"config" env:"INTAKE_CONFIG" env-delim:"," default:"/etc/intake/intake.yaml" description:"config file or URL to load; may be repeated"`
	HTTPListenAddr        string   `long:"http-listen-address" env:"INTAKE_HTTP_LISTEN_ADDRESS" description:"HTTP listen address for incoming spans"`
	GRPCListenAddr        string   `long:"grpc-listen-address" env:"INTAKE_GRPC_LISTEN_ADDRESS" description:"gRPC listen address for incoming spans"`
	StorageType           string   `long:"storage" env:"INTAKE_STORAGE_TYPE" description:"storage backend: inmem, redis or honeycomb"`
	RedisHost             string   `long:"redis-host" env:"INTAKE_REDIS_HOST" description:"redis host:port"`
	RedisUsername         string   `long:"redis-username" env:"INTAKE_REDIS_USERNAME" description:"redis username"`
	RedisPassword         string   `long:"redis-password" env:"INTAKE_REDIS_PASSWORD" description:"redis password"`
	RedisAuthCode         string   `long:"redis-auth-code" env:"INTAKE_REDIS_AUTH_CODE" description:"redis AUTH code"`
	HoneycombAPIKey       string   `long:"honeycomb-api-key" env:"INTAKE_HONEYCOMB_API_KEY" description:"API key for the honeycomb storage"`
	HoneycombLoggerAPIKey string   `long:"logger-api-key" env:"INTAKE_HONEYCOMB_LOGGER_API_KEY" description:"API key for the honeycomb logger"`
	KafkaBrokers          []string `long:"kafka-broker" env:"INTAKE_KAFKA_BROKERS" env-delim:"," description:"kafka broker address; may be repeated"`
	PulsarURL             string   `long:"pulsar-url" env:"INTAKE_PULSAR_URL" description:"pulsar service URL"`
	SQSQueueURL           string   `long:"sqs-queue-url" env:"INTAKE_SQS_QUEUE_URL" description:"SQS queue URL"`
	ThrottleEnabled       bool     `long:"throttle" env:"INTAKE_THROTTLE" description:"throttle storage calls with an adaptive limit"`
	Version               bool     `short:"v" long:"version" description:"print version number and exit"`
	Validate              bool     `short:"V" long:"validate" description:"load and validate the config, then exit"`
}

func NewCmdEnvOptions(args []string) (*CmdEnv, error) {
	opts := &CmdEnv{}

	if _, err := flags.ParseArgs(opts, args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	return opts, nil
}

// GetField returns the reflect.Value for the field with the given name in the CmdEnv struct.
func (c *CmdEnv) GetField(name string) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByName(name)
}

// ApplyTags uses reflection to apply the values from the CmdEnv struct to the
// given struct. Zero values in CmdEnv are not applied.
func (c *CmdEnv) ApplyTags(s reflect.Value) error {
	return applyCmdEnvTags(s, c)
}

type getFielder interface {
	GetField(name string) reflect.Value
}

// applyCmdEnvTags applies the values from the given getFielder to the given
// struct, recursing into nested structs and pointers.
func applyCmdEnvTags(s reflect.Value, fielder getFielder) error {
	switch s.Kind() {
	case reflect.Struct:
		t := s.Type()

		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			fieldType := t.Field(i)

			if tag := fieldType.Tag.Get("cmdenv"); tag != "" {
				value := fielder.GetField(tag)
				if !value.IsValid() {
					// the tag must name a field in CmdEnv
					return fmt.Errorf("programming error -- invalid field name: %s", tag)
				}
				if !field.CanSet() {
					return fmt.Errorf("programming error -- cannot set new value for: %s", fieldType.Name)
				}

				if !value.IsZero() {
					if fieldType.Type != value.Type() {
						return fmt.Errorf("programming error -- types don't match for field: %s (%v and %v)",
							fieldType.Name, fieldType.Type, value.Type())
					}
					field.Set(value)
				}
			}

			if err := applyCmdEnvTags(field, fielder); err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !s.IsNil() {
			return applyCmdEnvTags(s.Elem(), fielder)
		}
	}
	return nil
}
