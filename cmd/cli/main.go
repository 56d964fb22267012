// Command ddsctl is a CLI client for the data service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	grpcserver "github.com/and161185/dataservice/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "ddsctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ddsctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a JWT without verifying it; the server verifies.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	return grpc.NewClient(o.addr, opts...)
}

// ---- utils ----

func printMessage(m proto.Message) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		fail(err)
	}
	fmt.Println(string(b))
}

func usage() {
	fmt.Fprintf(os.Stderr, `ddsctl
Usage:
  ddsctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  login          -token <jwt>                            (saves token)
  user-login     -username <name> -password <password>   (saves user token)
  agent-login    -agent-key <key> -user-key <key>        (saves agent token)
  user-create    -username <name> [-name <text>] [-email <addr>] [-password <password>]
  authorize      -kind <kind> -id <uuid> -action <action>
  scope          -kind <kind> [-action <action>]
  history        -kind <kind> -id <uuid> [-after <version>]
  attribution    -kind <kind> -id <uuid>
  project-create -name <name> [-desc <text>]
  project-get    -id <uuid>
  project-list   [-offset N] [-limit N]
  project-update -id <uuid> -name <name> [-desc <text>]
  project-rm     -id <uuid>
  folder-create  -project <uuid> -name <name> [-parent <uuid>]
  folder-get     -id <uuid>
  folder-list    -project <uuid> [-offset N] [-limit N]
  folder-rm      -id <uuid>
  folder-mv      -id <uuid> [-parent <uuid>]               (no parent: project root)
  folder-rename  -id <uuid> -name <name>
  grant          -project <uuid> -user <uuid> -role <auth role id>
  revoke         -project <uuid> -user <uuid>
  affiliate      -project <uuid> -user <uuid> -role <project role id>
  unaffiliate    -project <uuid> -user <uuid>
  grant-system   -user <uuid> -role <auth role id>
  agent-create   -name <name> [-desc <text>] [-repo <url>]
  agent-get      -id <uuid>
  agent-rm       -id <uuid>
  agent-key      -id <uuid>                              (prints a new agent key)
  agent-key-rm   -id <uuid>
  user-key                                               (prints a new user key)
  user-key-rm
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var o dialOpts
	flag.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (local dev server)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("ddsctl %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "access token (e.g. from dds-server -bootstrap-admin)")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		exp, err := tokenExpiry(*tok)
		if err != nil {
			fail(err)
		}
		if err := saveToken(*tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "agent-login", "user-login":
		method, req, err := buildRequest(cmd, args)
		if err != nil {
			fail(err)
		}
		cc, err := dial(o, "")
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		out, err := grpcserver.Invoke(ctx, cc, method, req)
		if err != nil {
			fail(err)
		}
		tok := out.GetFields()["access_token"].GetStringValue()
		exp, err := tokenExpiry(tok)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		method, req, err := buildRequest(cmd, args)
		if errors.Is(err, errUnknownCommand) {
			usage()
		}
		if err != nil {
			fail(err)
		}
		token, err := loadToken()
		if err != nil {
			fail(err)
		}
		cc, err := dial(o, token)
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		out, err := grpcserver.Invoke(ctx, cc, method, req)
		if err != nil {
			fail(err)
		}
		printMessage(out)
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
