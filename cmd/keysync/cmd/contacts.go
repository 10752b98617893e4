package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/citadel-wallet/keysync/engine/oobi"
	"github.com/citadel-wallet/keysync/model/kel"
)

var (
	flagAlias string
	flagURL   string
	flagOOBI  string
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the contacts messages are sent to",
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <prefix>",
	Short: "Pin the endpoint of a contact, or resolve it from an introduction",
	Args:  cobra.ExactArgs(1),
	RunE:  addContact,
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known contacts",
	RunE:  listContacts,
}

func init() {
	contactsAddCmd.Flags().StringVar(&flagAlias, "alias", "", "alias of the contact")
	contactsAddCmd.Flags().StringVar(&flagURL, "url", "", "endpoint messages for the contact are posted to")
	contactsAddCmd.Flags().StringVar(&flagOOBI, "oobi", "", "introduction URL to resolve the contact and its key event log from")
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsListCmd)
}

func addContact(cmd *cobra.Command, args []string) error {
	prefix := kel.Prefix(args[0])
	if flagURL == "" && flagOOBI == "" {
		return fmt.Errorf("one of --url or --oobi is required")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if flagOOBI != "" {
		resolver := oobi.NewResolver(log, store, 1, 30*time.Second)
		err = resolver.ResolveNow(prefix, flagOOBI, flagAlias)
		if err != nil {
			return fmt.Errorf("could not resolve %s: %w", prefix, err)
		}
	}
	if flagURL != "" {
		contact, err := store.Contact(prefix)
		if err != nil {
			contact = &kel.Contact{Prefix: prefix}
		}
		contact.URL = flagURL
		if flagAlias != "" {
			contact.Alias = flagAlias
		}
		err = store.PinContact(contact)
		if err != nil {
			return fmt.Errorf("could not pin contact %s: %w", prefix, err)
		}
	}

	contact, err := store.Contact(prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\talias=%s\turl=%s\n", contact.Prefix, contact.Alias, contact.URL)
	return nil
}

func listContacts(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	contacts, err := store.Contacts()
	if err != nil {
		return fmt.Errorf("could not list contacts: %w", err)
	}
	for _, contact := range contacts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\talias=%s\turl=%s\toobi=%s\n", contact.Prefix, contact.Alias, contact.URL, contact.OOBI)
	}
	return nil
}
