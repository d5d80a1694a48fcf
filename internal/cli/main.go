package cli

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3"

	"github.com/rarimo/swap-svc/internal/config"
	"github.com/rarimo/swap-svc/internal/signer"
)

func Run(args []string) bool {
	defer func() {
		if rvr := recover(); rvr != nil {
			logan.New().WithRecover(rvr).Error("app panicked")
		}
	}()

	cfg := config.New(kv.MustFromEnv())
	log := cfg.Log()

	app := kingpin.New("swap-svc", "")
	runCmd := app.Command("run", "run command")

	// Driving a generic swap session against the exchange application
	swapCmd := runCmd.Command("swap", "run swap session")

	// Driving a hash time-locked swap session
	htlcCmd := runCmd.Command("htlc", "run htlc session")

	// Provisioning a signer access token
	tokenCmd := app.Command("token", "token command")
	tokenRequestCmd := tokenCmd.Command("request", "request access token from the signer operator")
	tokenHost := tokenRequestCmd.Flag("host", "signer ssh host").String()
	tokenPort := tokenRequestCmd.Flag("port", "signer ssh port").Int()
	tokenIdentity := tokenRequestCmd.Flag("identity", "requester identity shown to the operator").Default("default").String()
	tokenDataDir := tokenRequestCmd.Flag("data-dir", "signer data directory").String()

	// Key management on the remote signer
	keysCmd := app.Command("keys", "keys command")
	keysListCmd := keysCmd.Command("list", "list signer keys")
	keysTypesCmd := keysCmd.Command("types", "list generatable key types")
	keysGenCmd := keysCmd.Command("generate", "generate a key on the signer")
	keysGenType := keysGenCmd.Flag("type", "key type").Required().String()
	keysGenParams := keysGenCmd.Flag("param", "key=value creation parameter, repeatable").StringMap()
	keysDelCmd := keysCmd.Command("delete", "delete a key from the signer")
	keysDelAddress := keysDelCmd.Flag("address", "key address").Required().String()

	// Checking signer availability
	healthCmd := app.Command("health", "check signer availability")

	cmd, err := app.Parse(args[1:])
	if err != nil {
		log.WithError(err).Error("failed to parse arguments")
		return false
	}

	ctx := context.Background()

	switch cmd {
	case swapCmd.FullCommand():
		err = runSwap(ctx, cfg)
	case htlcCmd.FullCommand():
		err = runHTLC(ctx, cfg)
	case tokenRequestCmd.FullCommand():
		err = requestToken(cfg, *tokenDataDir, *tokenHost, *tokenPort, *tokenIdentity)
	case keysListCmd.FullCommand():
		err = listKeys(cfg)
	case keysTypesCmd.FullCommand():
		err = listKeyTypes(cfg)
	case keysGenCmd.FullCommand():
		err = generateKey(cfg, *keysGenType, *keysGenParams)
	case keysDelCmd.FullCommand():
		err = deleteKey(cfg, *keysDelAddress)
	case healthCmd.FullCommand():
		err = checkHealth(cfg)
	default:
		log.Errorf("unknown command %s", cmd)
		return false
	}

	if err != nil {
		log.WithError(err).Error("failed to exec cmd")
		return false
	}
	return true
}

func requestToken(cfg config.Config, dataDir, host string, port int, identity string) error {
	tokenPath, err := signer.RequestTokenToFile(dataDir, host, port, identity)
	if err != nil {
		return err
	}

	if token, err := signer.LoadToken(tokenPath); err == nil {
		if err := cfg.Secret().SetToken(token); err != nil {
			return err
		}
	}

	fmt.Println("token written to " + tokenPath)
	return nil
}

func checkHealth(cfg config.Config) error {
	client := cfg.Signer()
	defer client.Close()

	ok, err := client.Health()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("signer is unavailable")
		return nil
	}

	fmt.Println("signer is healthy")
	return nil
}
