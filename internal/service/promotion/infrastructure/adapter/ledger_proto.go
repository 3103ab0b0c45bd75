package adapter

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// 钱包服务 transaction.proto 的描述，字段编号必须与钱包服务保持一致：
//
//	service TransactionService { rpc AddTransaction(TransactionRequest) returns (UserResponse); }
//	message TransactionRequest { string userId = 1; double amount = 2; TransactionType transactionType = 3;
//	                             string description = 4; string additionalData = 5; }
//	message UserResponse { string id = 1; double balance = 2; }
const (
	ledgerPackage      = "transaction"
	addTransactionPath = "/transaction.TransactionService/AddTransaction"
)

type ledgerDescriptors struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func buildLedgerDescriptors() (*ledgerDescriptors, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("transaction.proto"),
		Package: proto.String(ledgerPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("TransactionType"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("CREDIT"), Number: proto.Int32(0)},
				{Name: proto.String("DEBIT"), Number: proto.Int32(1)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("TransactionRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("userId", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("amount", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, ""),
					field("transactionType", 3, descriptorpb.FieldDescriptorProto_TYPE_ENUM, ".transaction.TransactionType"),
					field("description", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("additionalData", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
				},
			},
			{
				Name: proto.String("UserResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("balance", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, ""),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("TransactionService"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("AddTransaction"),
				InputType:  proto.String(".transaction.TransactionRequest"),
				OutputType: proto.String(".transaction.UserResponse"),
			}},
		}},
	}

	// 使用独立的 registry，避免与进程内其他同名 proto 冲突
	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, errors.Wrap(err, "build transaction.proto descriptor")
	}
	msgs := fd.Messages()
	return &ledgerDescriptors{
		request:  msgs.ByName("TransactionRequest"),
		response: msgs.ByName("UserResponse"),
	}, nil
}
