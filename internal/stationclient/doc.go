// Package stationclient configures a Pluvi.On station through its setup
// portal, the same HTTP forms a phone would post.
//
// # Usage Example
//
//	client, err := stationclient.New("192.168.4.1")
//	if err != nil {
//	    return err
//	}
//
//	result := client.SafeSave(ctx, stationclient.Settings{
//	    Name:         "estacao-01",
//	    Latitude:     "-23.5505",
//	    Longitude:    "-46.6333",
//	    BucketVolume: "2.47",
//	}, nil)
//	if !result.Success {
//	    return result.Error
//	}
//
//	err = client.SubmitCredentials(ctx, stationclient.Credentials{
//	    SSID:       "Casa",
//	    Passphrase: "segredo123",
//	})
//
// # Verification
//
// The portal stores whatever the form sends and answers 200 either way, so
// saves are checked by reading /i.json back:
//  1. Settings are validated locally with the form's rules
//  2. The home form is posted
//  3. /i.json is read until the values match, with exponential backoff
//  4. SafeSave restores the previous values when they never match
//
// WiFi credentials cannot be verified; the portal never reports them.
//
// # Error Handling
//
// Every failure is a *StationError. Network failures and 5xx responses are
// retried; DNS failures, other HTTP statuses, parse and validation errors
// are not. Troubleshooting turns an error into hints for the CLI.
package stationclient
