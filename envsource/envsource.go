// Package envsource feeds environment configuration into an ioc.Container as
// value components.
//
// Every key becomes a zero-dependency component with id "env.<KEY>", tagged
// "env". Injection sites pull them with ValueArg or the value tag form:
//
//	c.MustRegister(ioc.Component("server").
//	    UseConstructor(NewServer). // func(addr string) *Server
//	    ValueArg(0, "env.APP_PORT"))
//
//	type Worker struct {
//	    Queue string `inject:"value:env.QUEUE_NAME"`
//	}
//
// Files are dotenv-formatted; the process environment always wins over file
// values. Register values before sealing the container.
package envsource

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	ioc "github.com/km-arc/go-ioc"
)

// Prefix namespaces the component ids registered by this package.
const Prefix = "env."

// Tag marks every component registered by this package, so applications can
// enumerate their configuration via ResolveTagged.
const Tag = "env"

// Load parses the given dotenv files, overlays the process environment on the
// keys they define, and registers each as a string value component. Missing
// files are skipped; .env is read when no file is named. Earlier files win
// over later ones, the process environment wins over all files.
func Load(c *ioc.Container, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	merged := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "envsource: reading %s", f)
		}
		for k, v := range vals {
			if _, dup := merged[k]; !dup {
				merged[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if _, tracked := merged[k]; tracked {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	// Stable registration order keeps tagged resolution deterministic.
	sort.Strings(keys)

	for _, k := range keys {
		if err := register(c, k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Var registers one key read from the process environment, falling back when
// unset or empty.
func Var(c *ioc.Container, key, fallback string) error {
	return register(c, key, env(key, fallback))
}

// IntVar registers an integer key. Unset or unparsable values fall back.
func IntVar(c *ioc.Container, key string, fallback int) error {
	v := fallback
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			v = parsed
		}
	}
	return registerAny(c, key, v)
}

// BoolVar registers a boolean key. Unset or unparsable values fall back.
func BoolVar(c *ioc.Container, key string, fallback bool) error {
	v := fallback
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			v = parsed
		}
	}
	return registerAny(c, key, v)
}

// Require registers the given keys and fails when any is absent from the
// process environment. Use for configuration the application cannot default.
func Require(c *ioc.Container, keys ...string) error {
	for _, k := range keys {
		v, ok := os.LookupEnv(k)
		if !ok {
			return errors.Errorf("envsource: required key %s is not set", k)
		}
		if err := register(c, k, v); err != nil {
			return err
		}
	}
	return nil
}

func register(c *ioc.Container, key, value string) error {
	return registerAny(c, key, value)
}

func registerAny(c *ioc.Container, key string, value any) error {
	err := c.Register(ioc.Component(Prefix + key).UseValue(value).Tags(Tag))
	if err != nil {
		return errors.Wrapf(err, "envsource: registering %s", key)
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
