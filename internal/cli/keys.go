package cli

import (
	"fmt"

	"github.com/rarimo/swap-svc/internal/config"
)

func listKeys(cfg config.Config) error {
	client := cfg.Signer()
	defer client.Close()

	keys, err := client.ListKeys(true)
	if err != nil {
		return err
	}

	for _, key := range keys {
		fmt.Println(key.Address + "\t" + key.KeyType)
	}
	return nil
}

func listKeyTypes(cfg config.Config) error {
	client := cfg.Signer()
	defer client.Close()

	keyTypes, err := client.KeyTypes()
	if err != nil {
		return err
	}

	for _, kt := range keyTypes {
		fmt.Println(kt.Name + "\t" + kt.Label)
	}
	return nil
}

func generateKey(cfg config.Config, keyType string, parameters map[string]string) error {
	client := cfg.Signer()
	defer client.Close()

	result, err := client.GenerateKey(keyType, parameters)
	if err != nil {
		return err
	}

	fmt.Println(result.Address)
	return nil
}

func deleteKey(cfg config.Config, address string) error {
	client := cfg.Signer()
	defer client.Close()

	if err := client.DeleteKey(address); err != nil {
		return err
	}

	fmt.Println("deleted " + address)
	return nil
}
