package main

import (
	"encoding/json"
	"os"

	"biin_lookup/mobicard"
	"biin_lookup/utils"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

var ErrCredentialsNotFound = merry.New("credentials not found, run init-credentials or set MOBICARD_* env variables")

const credentialsFName = "mobicard_credentials.json"

func credentialsFromEnv() (mobicard.Credentials, bool) {
	creds := mobicard.Credentials{
		MerchantID: os.Getenv("MOBICARD_MERCHANT_ID"),
		APIKey:     os.Getenv("MOBICARD_API_KEY"),
		SecretKey:  os.Getenv("MOBICARD_SECRET_KEY"),
	}
	return creds, creds.MerchantID != "" && creds.APIKey != "" && creds.SecretKey != ""
}

func writeCredentials(configDir string, creds mobicard.Credentials) error {
	if err := creds.Validate(); err != nil {
		return merry.Wrap(err)
	}
	file, err := os.OpenFile(configDir+"/"+credentialsFName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return merry.Wrap(err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "\t")
	if err := enc.Encode(creds); err != nil {
		return merry.Wrap(err)
	}
	return merry.Wrap(file.Close())
}

func readCredentials(configDir string) (mobicard.Credentials, error) {
	var creds mobicard.Credentials
	file, err := os.Open(configDir + "/" + credentialsFName)
	if os.IsNotExist(err) {
		return creds, ErrCredentialsNotFound.Here()
	}
	if err != nil {
		return creds, merry.Wrap(err)
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(&creds); err != nil {
		return creds, merry.Prependf(err, "malformed %s", credentialsFName)
	}
	return creds, nil
}

// loadCredentials prefers MOBICARD_* env variables over the stored file.
func loadCredentials() (mobicard.Credentials, error) {
	if creds, ok := credentialsFromEnv(); ok {
		log.Debug().Str("merchant_id", creds.MerchantID).Msg("using credentials from env")
		return creds, nil
	}
	configDir, err := utils.MakeConfigDir()
	if err != nil {
		return mobicard.Credentials{}, merry.Wrap(err)
	}
	creds, err := readCredentials(configDir)
	if err != nil {
		return creds, merry.Wrap(err)
	}
	log.Debug().Str("merchant_id", creds.MerchantID).Msg("using stored credentials")
	return creds, nil
}

func initCredentials(args ...string) error {
	if len(args) != 3 {
		return merry.Errorf("exactly three arguments (merchantID, apiKey and secretKey) are required, got %d", len(args))
	}
	configDir, err := utils.MakeConfigDir()
	if err != nil {
		return merry.Wrap(err)
	}
	creds := mobicard.Credentials{MerchantID: args[0], APIKey: args[1], SecretKey: args[2]}
	if err := writeCredentials(configDir, creds); err != nil {
		return merry.Wrap(err)
	}
	log.Info().Str("merchant_id", creds.MerchantID).Str("dir", configDir).Msg("credentials saved")
	return nil
}
